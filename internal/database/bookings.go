package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"
)

type bookingRepo struct{ q queryer }

const bookingColumns = `id, user_id, lab_id, date, start_minute, end_minute, purpose, status,
	payment_status, payment_amount, payment_intent_id, payment_reference, refund_owed,
	decision_reason, cancel_reason, decided_by, created_at, updated_at, version`

func (r bookingRepo) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, translate(err)
	}
	return b, nil
}

func (r bookingRepo) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.Version == 0 {
		booking.Version = 1
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`) VALUES (`+placeholders(19)+`)`,
		booking.ID,
		booking.UserID,
		booking.LabID,
		booking.Date.Format(models.DateLayout),
		int(booking.StartTime),
		int(booking.EndTime),
		booking.Purpose,
		booking.Status,
		booking.PaymentStatus,
		booking.PaymentAmount,
		booking.PaymentIntentID,
		booking.PaymentReference,
		booking.RefundOwed,
		booking.DecisionReason,
		booking.CancelReason,
		booking.DecidedBy,
		booking.CreatedAt.UTC(),
		booking.UpdatedAt.UTC(),
		booking.Version,
	)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r bookingRepo) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	res, err := r.q.ExecContext(ctx, `UPDATE bookings SET
			lab_id = ?, date = ?, start_minute = ?, end_minute = ?, purpose = ?, status = ?,
			payment_status = ?, payment_amount = ?, payment_intent_id = ?, payment_reference = ?, refund_owed = ?,
			decision_reason = ?, cancel_reason = ?, decided_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		booking.LabID,
		booking.Date.Format(models.DateLayout),
		int(booking.StartTime),
		int(booking.EndTime),
		booking.Purpose,
		booking.Status,
		booking.PaymentStatus,
		booking.PaymentAmount,
		booking.PaymentIntentID,
		booking.PaymentReference,
		booking.RefundOwed,
		booking.DecisionReason,
		booking.CancelReason,
		booking.DecidedBy,
		booking.UpdatedAt.UTC(),
		booking.ID,
		booking.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, booking.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check booking existence: %w", err)
		}
		if exists == 0 {
			return domain.ErrRecordNotFound
		}
		return domain.ErrConcurrentModification
	}

	booking.Version++
	return nil
}

func (r bookingRepo) ListLabBookings(ctx context.Context, labID string, date time.Time) ([]*models.Booking, error) {
	return r.query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE lab_id = ? AND date = ?
		ORDER BY date, start_minute, id`, labID, date.Format(models.DateLayout))
}

func (r bookingRepo) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1 = 1`
	var args []any
	if filter.LabID != "" {
		query += ` AND lab_id = ?`
		args = append(args, filter.LabID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Statuses)) + `)`
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if !filter.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, filter.From.Format(models.DateLayout))
	}
	if !filter.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, filter.To.Format(models.DateLayout))
	}
	query += ` ORDER BY date, start_minute, id`

	return r.query(ctx, query, args...)
}

func (r bookingRepo) query(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var date string
	var start, end int
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.LabID,
		&date,
		&start,
		&end,
		&b.Purpose,
		&b.Status,
		&b.PaymentStatus,
		&b.PaymentAmount,
		&b.PaymentIntentID,
		&b.PaymentReference,
		&b.RefundOwed,
		&b.DecisionReason,
		&b.CancelReason,
		&b.DecidedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Date, err = models.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	b.StartTime = models.TimeOfDay(start)
	b.EndTime = models.TimeOfDay(end)
	return &b, nil
}
