package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	now := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("ClaimThenReplay", func(t *testing.T) {
		existing, started, err := store.Begin(ctx, "k1", time.Minute)
		require.NoError(t, err)
		assert.True(t, started)
		assert.Nil(t, existing)

		existing, started, err = store.Begin(ctx, "k1", time.Minute)
		require.NoError(t, err)
		assert.False(t, started)
		require.NotNil(t, existing)
		assert.True(t, existing.InFlight)

		require.NoError(t, store.Complete(ctx, &models.IdempotencyRecord{Key: "k1", StatusCode: 201, Body: []byte(`{"id":"b-1"}`)}, time.Hour))

		existing, started, err = store.Begin(ctx, "k1", time.Minute)
		require.NoError(t, err)
		assert.False(t, started)
		assert.False(t, existing.InFlight)
		assert.Equal(t, 201, existing.StatusCode)
		assert.JSONEq(t, `{"id":"b-1"}`, string(existing.Body))
	})

	t.Run("Expiry", func(t *testing.T) {
		_, started, _ := store.Begin(ctx, "k2", time.Minute)
		require.True(t, started)

		now = now.Add(2 * time.Minute)
		_, started, err := store.Begin(ctx, "k2", time.Minute)
		require.NoError(t, err)
		assert.True(t, started, "expired claims can be taken again")
	})

	t.Run("Release", func(t *testing.T) {
		_, started, _ := store.Begin(ctx, "k3", time.Minute)
		require.True(t, started)
		require.NoError(t, store.Release(ctx, "k3"))

		_, started, _ = store.Begin(ctx, "k3", time.Minute)
		assert.True(t, started)
	})
}

func seedMemoryStore(t *testing.T, store *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Labs().CreateLab(ctx, &models.Lab{ID: "lab-1", Name: "Computer Science Lab A", Capacity: 30, Building: "Main Building", Status: models.LabAvailable}))
	require.NoError(t, store.Labs().CreateLab(ctx, &models.Lab{ID: "lab-3", Name: "Physics Laboratory", Capacity: 20, Building: "Science Building", Status: models.LabAvailable}))
	require.NoError(t, store.Users().CreateUser(ctx, &models.User{ID: "u1", Name: "Demo User", Email: "demo@university.edu", Role: models.RoleInternal, Status: models.UserActive}))
}

func TestMemoryStore_Transactions(t *testing.T) {
	store := NewMemoryStore()
	seedMemoryStore(t, store)
	ctx := context.Background()

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
			require.NoError(t, tx.Bookings().CreateBooking(ctx, &models.Booking{ID: "b-rollback", LabID: "lab-1", UserID: "u1", Date: models.MustDate("2026-02-01"), Status: models.StatusPending}))
			_, err := tx.Bookings().GetBooking(ctx, "b-rollback")
			require.NoError(t, err, "writes are visible inside the transaction")
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = store.Bookings().GetBooking(ctx, "b-rollback")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("Commit", func(t *testing.T) {
		err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
			return tx.Bookings().CreateBooking(ctx, &models.Booking{ID: "b-1", LabID: "lab-1", UserID: "u1", Date: models.MustDate("2026-02-01"), StartTime: models.MustTime("09:00"), EndTime: models.MustTime("11:00"), Status: models.StatusPending})
		})
		require.NoError(t, err)

		got, err := store.Bookings().GetBooking(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := store.WithinTx(cctx, func(context.Context, domain.Repositories) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStore_Bookings(t *testing.T) {
	store := NewMemoryStore()
	seedMemoryStore(t, store)
	ctx := context.Background()
	repo := store.Bookings()

	b := &models.Booking{ID: "b-1", LabID: "lab-1", UserID: "u1", Date: models.MustDate("2026-02-01"), StartTime: models.MustTime("13:00"), EndTime: models.MustTime("14:00"), Status: models.StatusPending}
	require.NoError(t, repo.CreateBooking(ctx, b))
	require.NoError(t, repo.CreateBooking(ctx, &models.Booking{ID: "b-2", LabID: "lab-1", UserID: "u1", Date: models.MustDate("2026-02-01"), StartTime: models.MustTime("09:00"), EndTime: models.MustTime("10:00"), Status: models.StatusApproved}))
	require.NoError(t, repo.CreateBooking(ctx, &models.Booking{ID: "b-3", LabID: "lab-3", UserID: "u1", Date: models.MustDate("2026-02-02"), StartTime: models.MustTime("09:00"), EndTime: models.MustTime("10:00"), Status: models.StatusPending}))

	t.Run("Duplicate", func(t *testing.T) {
		assert.ErrorIs(t, repo.CreateBooking(ctx, &models.Booking{ID: "b-1"}), domain.ErrDuplicateRecord)
	})

	t.Run("OptimisticVersion", func(t *testing.T) {
		first, _ := repo.GetBooking(ctx, "b-1")
		second, _ := repo.GetBooking(ctx, "b-1")

		first.Purpose = "updated"
		require.NoError(t, repo.UpdateBooking(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		second.Purpose = "stale"
		assert.ErrorIs(t, repo.UpdateBooking(ctx, second), domain.ErrConcurrentModification)

		got, _ := repo.GetBooking(ctx, "b-1")
		assert.Equal(t, "updated", got.Purpose)
	})

	t.Run("ReturnedCopiesAreIsolated", func(t *testing.T) {
		got, _ := repo.GetBooking(ctx, "b-2")
		got.Status = models.StatusCancelled
		again, _ := repo.GetBooking(ctx, "b-2")
		assert.Equal(t, models.StatusApproved, again.Status)
	})

	t.Run("ListLabBookingsSorted", func(t *testing.T) {
		list, err := repo.ListLabBookings(ctx, "lab-1", models.MustDate("2026-02-01"))
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "b-2", list[0].ID)
		assert.Equal(t, "b-1", list[1].ID)
	})

	t.Run("ListBookingsFilter", func(t *testing.T) {
		list, err := repo.ListBookings(ctx, models.BookingFilter{Statuses: []string{models.StatusPending}})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = repo.ListBookings(ctx, models.BookingFilter{From: models.MustDate("2026-02-02")})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "b-3", list[0].ID)
	})
}

func TestMemoryStore_UsersLabsNotifications(t *testing.T) {
	store := NewMemoryStore()
	seedMemoryStore(t, store)
	ctx := context.Background()

	t.Run("EmailUniqueCaseInsensitive", func(t *testing.T) {
		err := store.Users().CreateUser(ctx, &models.User{ID: "u9", Email: "DEMO@university.edu"})
		assert.ErrorIs(t, err, domain.ErrDuplicateRecord)

		u, err := store.Users().GetUserByEmail(ctx, " Demo@University.edu ")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
	})

	t.Run("LabSearch", func(t *testing.T) {
		labs, err := store.Labs().ListLabs(ctx, models.LabFilter{Search: "science building"})
		require.NoError(t, err)
		require.Len(t, labs, 1)
		assert.Equal(t, "lab-3", labs[0].ID)

		require.NoError(t, store.Labs().DeleteLab(ctx, "lab-3"))
		assert.ErrorIs(t, store.Labs().DeleteLab(ctx, "lab-3"), domain.ErrRecordNotFound)
	})

	t.Run("Notifications", func(t *testing.T) {
		base := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
		require.NoError(t, store.Notifications().CreateNotification(ctx, &models.Notification{ID: "n1", UserID: "u1", Title: "a", CreatedAt: base}))
		require.NoError(t, store.Notifications().CreateNotification(ctx, &models.Notification{ID: "n2", UserID: "u1", Title: "b", CreatedAt: base.Add(time.Minute)}))

		list, err := store.Notifications().ListUserNotifications(ctx, "u1", false)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "n2", list[0].ID, "newest first")

		require.NoError(t, store.Notifications().MarkNotificationRead(ctx, "n1"))
		unread, _ := store.Notifications().ListUserNotifications(ctx, "u1", true)
		assert.Len(t, unread, 1)

		count, err := store.Notifications().MarkAllNotificationsRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestMemoryStore_TaskQueue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &models.DeliveryTask{TaskType: "deliver_notification", Reference: "n1", Payload: "{}"}
	require.NoError(t, store.CreateTask(ctx, task))
	assert.Equal(t, int64(1), task.ID)

	pending, err := store.GetPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusRetry, "sink down", &later))
	pending, _ = store.GetPendingTasks(ctx, 10)
	assert.Empty(t, pending, "retry is scheduled in the future")

	require.NoError(t, store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, "gave up", nil))
	failed, err := store.GetFailedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RetryCount)
	assert.NotNil(t, failed[0].ProcessedAt)

	assert.ErrorIs(t, store.UpdateTaskStatus(ctx, 99, models.TaskStatusCompleted, "", nil), domain.ErrRecordNotFound)
}
