package service

import (
	"context"
	"testing"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabService_Catalog(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		science, err := f.labs.ListLabs(ctx, models.LabFilter{Search: "science building"})
		require.NoError(t, err)
		assert.Len(t, science, 2)

		maint, err := f.labs.ListLabs(ctx, models.LabFilter{Status: models.LabMaintenance})
		require.NoError(t, err)
		require.Len(t, maint, 1)
		assert.Equal(t, "lab-3", maint[0].ID)

		_, err = f.labs.ListLabs(ctx, models.LabFilter{Status: "closed"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = f.labs.GetLab(ctx, "lab-9")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestLabService_AdminWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		input := &models.Lab{Name: " Robotics Lab ", Capacity: 12, Equipment: []string{"Arms", " arms ", "", "Sensors"}, Building: "Engineering"}

		_, err := f.labs.CreateLab(ctx, "1", input)
		assert.ErrorIs(t, err, domain.ErrPermission)

		lab, err := f.labs.CreateLab(ctx, "3", input)
		require.NoError(t, err)
		assert.NotEmpty(t, lab.ID)
		assert.Equal(t, "Robotics Lab", lab.Name)
		assert.Equal(t, models.LabAvailable, lab.Status)
		assert.Equal(t, []string{"Arms", "Sensors"}, lab.Equipment)

		_, err = f.labs.CreateLab(ctx, "3", &models.Lab{Name: "Empty", Capacity: 0})
		assert.ErrorIs(t, err, domain.ErrValidation)

		lab.Capacity = 16
		lab.Status = ""
		lab.HourlyRate = 5000
		updated, err := f.labs.UpdateLab(ctx, "3", lab)
		require.NoError(t, err)
		assert.Equal(t, 16, updated.Capacity)
		assert.Equal(t, models.LabAvailable, updated.Status)

		_, err = f.labs.UpdateLab(ctx, "3", &models.Lab{ID: "lab-9", Name: "x", Capacity: 1})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// A lab's own rate drives quotes.
		b := f.submit(t, "5", lab.ID, "2026-02-01", "09:00", "10:00")
		assert.Equal(t, int64(5000), b.PaymentAmount)

		_, err = f.labs.SetLabStatus(ctx, "3", lab.ID, models.LabMaintenance)
		require.NoError(t, err)
		_, err = f.bookings.SubmitBooking(ctx, submitReq("1", lab.ID, "2026-02-01", "11:00", "12:00"))
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, models.StatusPending, f.reload(t, b.ID).Status, "existing bookings survive maintenance")

		assert.ErrorIs(t, f.labs.DeleteLab(ctx, "3", lab.ID), domain.ErrInvalidState)
		_, err = f.bookings.CancelBooking(ctx, b.ID, "5", "lab closed")
		require.NoError(t, err)
		require.NoError(t, f.labs.DeleteLab(ctx, "3", lab.ID))
		_, err = f.labs.GetLab(ctx, lab.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = f.labs.SetLabStatus(ctx, "3", "lab-1", "broken")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
