package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"labreserve/internal/models"
)

const (
	EventBookingSubmitted = "booking_submitted"
	EventBookingApproved  = "booking_approved"
	EventBookingRejected  = "booking_rejected"
	EventBookingModified  = "booking_modified"
	EventBookingCancelled = "booking_cancelled"
	EventBookingCompleted = "booking_completed"

	EventPaymentInitiated = "payment_initiated"
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventRefundRequested  = "refund_requested"
	EventRefundIssued     = "refund_issued"

	EventNotificationCreated = "notification_created"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     string `json:"booking_id"`
	UserID        string `json:"user_id"`
	LabID         string `json:"lab_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status,omitempty"`
	PaymentAmount int64  `json:"payment_amount,omitempty"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Reason        string `json:"reason,omitempty"`
	ChangedBy     string `json:"changed_by,omitempty"`
}

// NewBookingPayload snapshots b for publishing.
func NewBookingPayload(b *models.Booking, changedBy, reason string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:     b.ID,
		UserID:        b.UserID,
		LabID:         b.LabID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		PaymentAmount: b.PaymentAmount,
		Date:          b.Date.Format(models.DateLayout),
		StartTime:     b.StartTime.String(),
		EndTime:       b.EndTime.String(),
		Reason:        reason,
		ChangedBy:     changedBy,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns their joined
// errors. Every handler runs even if an earlier one fails.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
