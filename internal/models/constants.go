package models

import "time"

// Booking statuses.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Payment statuses. RefundPending and Refunded only appear after an owner
// cancels a paid booking.
const (
	PaymentPending       = "pending"
	PaymentPaid          = "paid"
	PaymentFailed        = "failed"
	PaymentRefundPending = "refund_pending"
	PaymentRefunded      = "refunded"
)

// Payment confirmation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

const (
	RoleInternal = "internal"
	RoleExternal = "external"
	RoleAdmin    = "admin"
)

const (
	UserActive   = "active"
	UserInactive = "inactive"
)

const (
	LabAvailable   = "available"
	LabOccupied    = "occupied"
	LabMaintenance = "maintenance"
)

const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Broadcast audiences.
const (
	AudienceAll      = "all"
	AudienceInternal = "internal"
	AudienceExternal = "external"
	AudienceAdmins   = "admins"
)

// Delivery task statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

const (
	// DateLayout is the wire and storage format of booking dates.
	DateLayout = "2006-01-02"

	// TimeLayout is the wire format of start and end times.
	TimeLayout = "15:04"

	// DefaultMaxDuration caps a single booking.
	DefaultMaxDuration = 4 * time.Hour

	// DefaultMinLeadTime is the minimum gap between now and a booking start.
	DefaultMinLeadTime = 24 * time.Hour

	// DefaultLockWait bounds lock acquisition before ResourceBusy.
	DefaultLockWait = 2 * time.Second

	// DefaultHourlyRate is in minor currency units (75.00 per hour).
	DefaultHourlyRate int64 = 7500

	DefaultCurrency = "USD"

	// DefaultIdempotencyTTL is how long a stored response can be replayed.
	DefaultIdempotencyTTL = 24 * time.Hour

	// DefaultSweepInterval is the completion sweeper period.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultTokenTTL is the access token lifetime.
	DefaultTokenTTL = 12 * time.Hour
)

var validStatuses = map[string]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
	StatusCompleted: true,
}

var validLabStatuses = map[string]bool{
	LabAvailable:   true,
	LabOccupied:    true,
	LabMaintenance: true,
}

var validRoles = map[string]bool{
	RoleInternal: true,
	RoleExternal: true,
	RoleAdmin:    true,
}

var validNotificationTypes = map[string]bool{
	NotificationInfo:    true,
	NotificationSuccess: true,
	NotificationWarning: true,
	NotificationError:   true,
}

var validAudiences = map[string]bool{
	AudienceAll:      true,
	AudienceInternal: true,
	AudienceExternal: true,
	AudienceAdmins:   true,
}

func IsValidBookingStatus(s string) bool { return validStatuses[s] }

func IsValidLabStatus(s string) bool { return validLabStatuses[s] }

func IsValidRole(s string) bool { return validRoles[s] }

func IsValidNotificationType(s string) bool { return validNotificationTypes[s] }

func IsValidAudience(s string) bool { return validAudiences[s] }

func IsValidUserStatus(s string) bool { return s == UserActive || s == UserInactive }
