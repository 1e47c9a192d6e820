package models

import "time"

type Booking struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	LabID            string    `json:"lab_id"`
	Date             time.Time `json:"date"`
	StartTime        TimeOfDay `json:"start_time"`
	EndTime          TimeOfDay `json:"end_time"`
	Purpose          string    `json:"purpose"`
	Status           string    `json:"status"` // pending, approved, rejected, cancelled, completed
	PaymentStatus    string    `json:"payment_status,omitempty"`
	PaymentAmount    int64     `json:"payment_amount,omitempty"`
	PaymentIntentID  string    `json:"payment_intent_id,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	RefundOwed       bool      `json:"refund_owed"`
	DecisionReason   string    `json:"decision_reason,omitempty"`
	CancelReason     string    `json:"cancel_reason,omitempty"`
	DecidedBy        string    `json:"decided_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// Clone returns an independent copy.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// HoldsSlot reports whether the booking blocks its interval for others.
func (b *Booking) HoldsSlot() bool {
	return b.Status == StatusPending || b.Status == StatusApproved
}

// HasPayment reports whether the booking carries the payment axis.
func (b *Booking) HasPayment() bool { return b.PaymentStatus != "" }

// IsConfirmed reports whether the booking grants lab access: approved and,
// for bookings with a payment axis, paid.
func (b *Booking) IsConfirmed() bool {
	if b.Status != StatusApproved {
		return false
	}
	return !b.HasPayment() || b.PaymentStatus == PaymentPaid
}

func (b *Booking) Duration() time.Duration {
	return (b.EndTime - b.StartTime).Offset()
}

func (b *Booking) StartsAt(loc *time.Location) time.Time { return At(b.Date, b.StartTime, loc) }

func (b *Booking) EndsAt(loc *time.Location) time.Time { return At(b.Date, b.EndTime, loc) }

// ConflictsWith reports whether b blocks the given slot on the same lab.
func (b *Booking) ConflictsWith(labID string, date time.Time, start, end TimeOfDay) bool {
	if !b.HoldsSlot() || b.LabID != labID {
		return false
	}
	if !DateOnly(b.Date).Equal(DateOnly(date)) {
		return false
	}
	return Overlaps(b.StartTime, b.EndTime, start, end)
}
