package service

import (
	"bytes"
	"context"
	"testing"

	"labreserve/internal/domain"
	"labreserve/internal/models"
	"labreserve/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReportService_Summary(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()

	f.submit(t, "1", "lab-1", "2026-02-01", "09:00", "10:00")
	f.approved(t, "2", "lab-1", "2026-02-01", "11:00", "13:00")
	f.approved(t, "5", "lab-2", "2026-02-01", "09:00", "10:00")
	f.paid(t, "lab-2", "2026-02-02", "09:00", "11:00")
	refunded := f.paid(t, "lab-2", "2026-02-03", "09:00", "10:00")
	_, err := f.bookings.CancelBooking(ctx, refunded.ID, "5", "sick")
	require.NoError(t, err)

	_, err = f.reports.Summary(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrPermission)

	s, err := f.reports.Summary(ctx, "3")
	require.NoError(t, err)
	assert.True(t, s.GeneratedAt.Equal(testNow))
	assert.Equal(t, map[string]int{
		models.StatusPending:   1,
		models.StatusApproved:  3,
		models.StatusCancelled: 1,
	}, s.BookingsByStatus)
	assert.Equal(t, 1, s.PendingApprovals)
	assert.Equal(t, 1, s.AwaitingPayment)
	assert.Equal(t, 1, s.RefundsOwed)
	assert.Equal(t, int64(15000), s.Revenue)
	assert.Equal(t, map[string]int{models.LabAvailable: 2, models.LabMaintenance: 1}, s.LabsByStatus)
	assert.Equal(t, map[string]int{models.RoleInternal: 3, models.RoleAdmin: 1, models.RoleExternal: 1}, s.UsersByRole)

	require.Len(t, s.LabUsage, 3)
	assert.Equal(t, models.LabUsage{LabID: "lab-1", LabName: "Computer Science Lab A", Bookings: 1, BookedMinutes: 120}, s.LabUsage[0])
	assert.Equal(t, models.LabUsage{LabID: "lab-2", LabName: "Physics Lab", Bookings: 2, BookedMinutes: 180, Revenue: 15000}, s.LabUsage[1])
}

func TestReportService_ExportXLSX(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()

	f.submit(t, "1", "lab-1", "2026-02-01", "09:00", "10:00")
	f.approved(t, "5", "lab-2", "2026-02-05", "14:00", "16:00")

	_, err := f.reports.ExportBookingsXLSX(ctx, "2", models.MustDate("2026-02-01"), models.MustDate("2026-02-28"))
	assert.ErrorIs(t, err, domain.ErrPermission)

	_, err = f.reports.ExportBookingsXLSX(ctx, "3", models.MustDate("2026-02-10"), models.MustDate("2026-02-01"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	data, err := f.reports.ExportBookingsXLSX(ctx, "3", models.MustDate("2026-02-02"), models.MustDate("2026-02-28"))
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, []string{"Bookings"}, wb.GetSheetList())
	rows, err := wb.GetRows("Bookings")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportHeaders, rows[0])
	assert.Equal(t, []string{"2026-02-05", "14:00", "16:00", "Physics Lab", "External User", "external", "approved", "pending", "150.00 USD", "Lab session"}, rows[1][1:])
}
