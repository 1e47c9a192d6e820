package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

type ReportService struct {
	store    domain.Store
	currency string
	logger   *zerolog.Logger
	now      Clock
}

func NewReportService(store domain.Store, currency string, logger *zerolog.Logger) *ReportService {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &ReportService{store: store, currency: currency, logger: logger, now: time.Now}
}

func (s *ReportService) SetClock(clock Clock) { s.now = clock }

// Summary aggregates the dataset for the admin dashboard. Revenue counts
// paid bookings only.
func (s *ReportService) Summary(ctx context.Context, adminID string) (*models.ReportSummary, error) {
	const op = "ReportSummary"
	if _, err := requireAdmin(ctx, s.store, op, adminID); err != nil {
		return nil, err
	}

	bookings, err := s.store.Bookings().ListBookings(ctx, models.BookingFilter{})
	if err != nil {
		return nil, storeErr(op, "booking", "", err)
	}
	labs, err := s.store.Labs().ListLabs(ctx, models.LabFilter{})
	if err != nil {
		return nil, storeErr(op, "lab", "", err)
	}
	users, err := s.store.Users().ListUsers(ctx, models.UserFilter{})
	if err != nil {
		return nil, storeErr(op, "user", "", err)
	}

	summary := &models.ReportSummary{
		GeneratedAt:      s.now().UTC(),
		BookingsByStatus: make(map[string]int),
		LabsByStatus:     make(map[string]int),
		UsersByRole:      make(map[string]int),
	}
	for _, l := range labs {
		summary.LabsByStatus[l.Status]++
	}
	for _, u := range users {
		summary.UsersByRole[u.Role]++
	}

	usage := make(map[string]*models.LabUsage, len(labs))
	for _, l := range labs {
		usage[l.ID] = &models.LabUsage{LabID: l.ID, LabName: l.Name}
	}

	for _, b := range bookings {
		summary.BookingsByStatus[b.Status]++
		switch {
		case b.Status == models.StatusPending:
			summary.PendingApprovals++
		case b.Status == models.StatusApproved &&
			(b.PaymentStatus == models.PaymentPending || b.PaymentStatus == models.PaymentFailed):
			summary.AwaitingPayment++
		}
		if b.RefundOwed {
			summary.RefundsOwed++
		}

		u, ok := usage[b.LabID]
		if !ok {
			u = &models.LabUsage{LabID: b.LabID, LabName: b.LabID}
			usage[b.LabID] = u
		}
		if b.Status == models.StatusApproved || b.Status == models.StatusCompleted {
			u.Bookings++
			u.BookedMinutes += int(b.EndTime - b.StartTime)
		}
		if b.PaymentStatus == models.PaymentPaid {
			u.Revenue += b.PaymentAmount
			summary.Revenue += b.PaymentAmount
		}
	}

	summary.LabUsage = make([]models.LabUsage, 0, len(usage))
	for _, u := range usage {
		summary.LabUsage = append(summary.LabUsage, *u)
	}
	sort.Slice(summary.LabUsage, func(i, j int) bool { return summary.LabUsage[i].LabID < summary.LabUsage[j].LabID })

	return summary, nil
}

var exportHeaders = []string{"Booking ID", "Date", "Start", "End", "Lab", "User", "Role", "Status", "Payment", "Amount", "Purpose"}

// ExportBookingsXLSX renders bookings dated within [from, to] as a workbook.
// Zero bounds are open.
func (s *ReportService) ExportBookingsXLSX(ctx context.Context, adminID string, from, to time.Time) ([]byte, error) {
	const op = "ExportBookings"
	if _, err := requireAdmin(ctx, s.store, op, adminID); err != nil {
		return nil, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, domain.ValidationFields(op, map[string]string{"to": "must not be before from"})
	}

	bookings, err := s.store.Bookings().ListBookings(ctx, models.BookingFilter{From: from, To: to})
	if err != nil {
		return nil, storeErr(op, "booking", "", err)
	}
	labs, err := s.store.Labs().ListLabs(ctx, models.LabFilter{})
	if err != nil {
		return nil, storeErr(op, "lab", "", err)
	}
	users, err := s.store.Users().ListUsers(ctx, models.UserFilter{})
	if err != nil {
		return nil, storeErr(op, "user", "", err)
	}
	labNames := make(map[string]string, len(labs))
	for _, l := range labs {
		labNames[l.ID] = l.Name
	}
	userByID := make(map[string]*models.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Bookings"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, b := range bookings {
		row := i + 2
		userName, role := b.UserID, ""
		if u, ok := userByID[b.UserID]; ok {
			userName, role = u.Name, u.Role
		}
		lab := labNames[b.LabID]
		if lab == "" {
			lab = b.LabID
		}
		amount := ""
		if b.HasPayment() {
			amount = FormatAmount(b.PaymentAmount, s.currency)
		}

		values := []interface{}{
			b.ID, b.Date.Format(models.DateLayout), b.StartTime.String(), b.EndTime.String(),
			lab, userName, role, b.Status, b.PaymentStatus, amount, b.Purpose,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "D", 12)
	_ = f.SetColWidth(sheetName, "E", "J", 20)
	_ = f.SetColWidth(sheetName, "K", "K", 40)

	_ = f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("error writing workbook: %w", err)
	}

	s.logger.Info().Int("rows", len(bookings)).Str("admin_id", adminID).Msg("Bookings exported")
	return buf.Bytes(), nil
}
