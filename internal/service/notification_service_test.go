package service

import (
	"context"
	"testing"

	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/models"
	"labreserve/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationService_Read(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.submit(t, "1", "lab-1", "2026-02-01", "09:00", "11:00")
		f.submit(t, "1", "lab-2", "2026-02-01", "09:00", "11:00")

		notes, err := f.notifier.ListUserNotifications(ctx, "1", "1", true)
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.False(t, notes[0].Read)
		assert.True(t, notes[0].CreatedAt.Equal(testNow))
		assert.Equal(t, models.NotificationInfo, notes[0].Type)

		assert.ErrorIs(t, f.notifier.MarkRead(ctx, notes[0].ID, "2"), domain.ErrPermission)
		require.NoError(t, f.notifier.MarkRead(ctx, notes[0].ID, "1"))
		require.NoError(t, f.notifier.MarkRead(ctx, notes[0].ID, "1"))
		assert.ErrorIs(t, f.notifier.MarkRead(ctx, "missing", "1"), domain.ErrNotFound)

		unread, err := f.notifier.ListUserNotifications(ctx, "1", "1", true)
		require.NoError(t, err)
		assert.Len(t, unread, 1)

		_, err = f.notifier.MarkAllRead(ctx, "3", "1")
		assert.ErrorIs(t, err, domain.ErrPermission)

		n, err := f.notifier.MarkAllRead(ctx, "1", "1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		unread, err = f.notifier.ListUserNotifications(ctx, "1", "1", true)
		require.NoError(t, err)
		assert.Empty(t, unread)

		all, err := f.notifier.ListUserNotifications(ctx, "3", "1", false)
		require.NoError(t, err, "admins can read any inbox")
		assert.Len(t, all, 2)

		_, err = f.notifier.ListUserNotifications(ctx, "2", "1", false)
		assert.ErrorIs(t, err, domain.ErrPermission)
	})
}

func TestNotificationService_Broadcast(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()

	tests := []struct {
		audience string
		want     int
	}{
		{models.AudienceAll, 4},
		{models.AudienceInternal, 2},
		{models.AudienceExternal, 1},
		{models.AudienceAdmins, 1},
	}
	for _, tt := range tests {
		t.Run(tt.audience, func(t *testing.T) {
			n, err := f.notifier.Broadcast(ctx, "3", BroadcastRequest{
				Audience: tt.audience,
				Title:    "Maintenance window",
				Message:  "Labs close early on Friday.",
				Type:     models.NotificationWarning,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	assert.Empty(t, f.titles(t, "4"), "inactive users are skipped")
	assert.Len(t, f.titles(t, "1"), 2)
	assert.Equal(t, 8, f.events.count(events.EventNotificationCreated))

	_, err := f.notifier.Broadcast(ctx, "1", BroadcastRequest{Audience: models.AudienceAll, Title: "t", Message: "m"})
	assert.ErrorIs(t, err, domain.ErrPermission)

	_, err = f.notifier.Broadcast(ctx, "3", BroadcastRequest{Audience: "everyone", Title: "", Message: "m", Type: "loud"})
	require.ErrorIs(t, err, domain.ErrValidation)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Fields, "audience")
	assert.Contains(t, derr.Fields, "title")
	assert.Contains(t, derr.Fields, "type")
}

func TestNotificationService_PublishAfterCommitOnly(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()

	f.submit(t, "1", "lab-1", "2026-02-01", "09:00", "11:00")
	assert.Equal(t, 1, f.events.count(events.EventNotificationCreated))

	_, err := f.bookings.SubmitBooking(ctx, submitReq("2", "lab-1", "2026-02-01", "10:00", "11:00"))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, f.events.count(events.EventNotificationCreated))
	assert.Empty(t, f.titles(t, "2"))
}
