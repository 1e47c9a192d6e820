package domain

import (
	"context"
	"time"

	"labreserve/internal/models"
)

type LabRepository interface {
	GetLab(ctx context.Context, id string) (*models.Lab, error)
	ListLabs(ctx context.Context, filter models.LabFilter) ([]*models.Lab, error)
	CreateLab(ctx context.Context, lab *models.Lab) error
	UpdateLab(ctx context.Context, lab *models.Lab) error
	DeleteLab(ctx context.Context, id string) error
}

type BookingRepository interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	// UpdateBooking writes all mutable fields when booking.Version matches the
	// stored row and increments the version.
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	ListLabBookings(ctx context.Context, labID string, date time.Time) ([]*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	ListUserNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error)
}

// Repositories groups the entity repositories visible inside one unit of work.
type Repositories interface {
	Labs() LabRepository
	Bookings() BookingRepository
	Users() UserRepository
	Notifications() NotificationRepository
}

// Store is the entity store. Reads outside WithinTx are snapshot reads;
// WithinTx commits everything fn wrote or nothing.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// TaskQueue persists delivery tasks handed to external collaborators.
type TaskQueue interface {
	CreateTask(ctx context.Context, task *models.DeliveryTask) error
	GetPendingTasks(ctx context.Context, limit int) ([]models.DeliveryTask, error)
	UpdateTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedTasks(ctx context.Context) ([]models.DeliveryTask, error)
}

// Locker provides exclusive named locks with bounded waiting. Acquire
// returns a ResourceBusy error when wait elapses.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// IdempotencyStore records responses of mutating requests by key.
type IdempotencyStore interface {
	// Begin atomically claims key. When the key already exists it returns the
	// stored record and started=false.
	Begin(ctx context.Context, key string, ttl time.Duration) (existing *models.IdempotencyRecord, started bool, err error)
	Complete(ctx context.Context, record *models.IdempotencyRecord, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PricingRule computes the amount owed by a billable user, in minor units.
type PricingRule interface {
	Quote(ctx context.Context, lab *models.Lab, user *models.User, date time.Time, start, end models.TimeOfDay) (int64, error)
}

// PaymentProvider is the external payment collaborator.
type PaymentProvider interface {
	Name() string
	CreateIntent(ctx context.Context, booking *models.Booking) (string, error)
	Refund(ctx context.Context, booking *models.Booking) error
}

// NotificationSink delivers notification records outside the engine.
type NotificationSink interface {
	Deliver(ctx context.Context, n *models.Notification) error
}
