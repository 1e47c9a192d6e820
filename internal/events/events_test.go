package events

import (
	"errors"
	"testing"

	"labreserve/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventBookingApproved, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	booking := &models.Booking{
		ID:        "b-1",
		UserID:    "u-1",
		LabID:     "lab-1",
		Date:      models.MustDate("2026-02-01"),
		StartTime: models.MustTime("09:00"),
		EndTime:   models.MustTime("11:00"),
		Status:    models.StatusApproved,
	}
	require.NoError(t, bus.PublishJSON(EventBookingApproved, NewBookingPayload(booking, "admin-1", "")))

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventBookingApproved, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded BookingEventPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "b-1", decoded.BookingID)
	assert.Equal(t, "2026-02-01", decoded.Date)
	assert.Equal(t, "09:00", decoded.StartTime)
	assert.Equal(t, "admin-1", decoded.ChangedBy)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return errors.New("first failed") })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	err := bus.PublishJSON("event", map[string]string{"k": "v"})
	assert.EqualError(t, err, "first failed")
	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2, "later handlers still run")
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.PublishJSON("nobody_listens", struct{}{}))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("event", nil))
}

func TestPublishJSONEncodeError(t *testing.T) {
	bus := NewEventBus()
	err := bus.PublishJSON("event", make(chan int))
	assert.Error(t, err)
}
