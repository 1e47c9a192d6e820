package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labreserve/internal/config"
	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/lock"
	"labreserve/internal/metrics"
	"labreserve/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errNoop aborts a transition that has nothing to write.
var errNoop = errors.New("no change")

// BookingPolicy holds the slot rules every submit and modify must satisfy.
type BookingPolicy struct {
	MaxDuration time.Duration
	MinLeadTime time.Duration
	LockWait    time.Duration
	Location    *time.Location
	Currency    string
}

func PolicyFromConfig(booking config.BookingConfig, pricing config.PricingConfig) BookingPolicy {
	return BookingPolicy{
		MaxDuration: booking.MaxDuration,
		MinLeadTime: booking.MinLeadTime,
		LockWait:    booking.LockWait,
		Location:    booking.Location(),
		Currency:    pricing.Currency,
	}
}

func (p BookingPolicy) withDefaults() BookingPolicy {
	if p.MaxDuration <= 0 {
		p.MaxDuration = models.DefaultMaxDuration
	}
	if p.MinLeadTime <= 0 {
		p.MinLeadTime = models.DefaultMinLeadTime
	}
	if p.LockWait <= 0 {
		p.LockWait = models.DefaultLockWait
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	return p
}

type BookingService struct {
	store    domain.Store
	locker   domain.Locker
	pricing  domain.PricingRule
	notifier *NotificationService
	bus      domain.EventPublisher
	policy   BookingPolicy
	logger   *zerolog.Logger
	now      Clock
}

func NewBookingService(
	store domain.Store,
	locker domain.Locker,
	pricing domain.PricingRule,
	notifier *NotificationService,
	bus domain.EventPublisher,
	policy BookingPolicy,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		store:    store,
		locker:   locker,
		pricing:  pricing,
		notifier: notifier,
		bus:      bus,
		policy:   policy.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock pins the service and its notifier to clock.
func (s *BookingService) SetClock(clock Clock) {
	s.now = clock
	s.notifier.SetClock(clock)
}

func (s *BookingService) Policy() BookingPolicy { return s.policy }

type SubmitRequest struct {
	UserID  string
	LabID   string
	Date    time.Time
	Start   models.TimeOfDay
	End     models.TimeOfDay
	Purpose string
}

// SubmitBooking creates a pending booking. The conflict check, the insert
// and the owner's notification commit together under the slot lock.
func (s *BookingService) SubmitBooking(ctx context.Context, req SubmitRequest) (*models.Booking, error) {
	const op = "SubmitBooking"
	if req.Start >= req.End {
		return nil, domain.InvalidRange(op, req.Start, req.End)
	}
	date := models.DateOnly(req.Date)

	release, err := lock.AcquireAll(ctx, s.locker, s.policy.LockWait, lock.SlotKey(req.LabID, date))
	if err != nil {
		return nil, lockErr(op, err)
	}
	defer release()

	var (
		booking *models.Booking
		note    *models.Notification
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		user, err := activeUser(ctx, tx, op, req.UserID)
		if err != nil {
			return err
		}
		if user.IsAdmin() {
			return domain.Permission(op, "administrators cannot create bookings")
		}

		lab, err := tx.Labs().GetLab(ctx, req.LabID)
		if err != nil {
			return storeErr(op, "lab", req.LabID, err)
		}
		if err := s.validateSlot(op, lab, date, req.Start, req.End, req.Purpose); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, tx, op, lab.ID, date, req.Start, req.End, ""); err != nil {
			return err
		}

		now := s.now().UTC()
		b := &models.Booking{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			LabID:     lab.ID,
			Date:      date,
			StartTime: req.Start,
			EndTime:   req.End,
			Purpose:   strings.TrimSpace(req.Purpose),
			Status:    models.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if user.IsBillable() {
			amount, err := s.pricing.Quote(ctx, lab, user, date, req.Start, req.End)
			if err != nil {
				return fmt.Errorf("%s: failed to quote booking: %w", op, err)
			}
			b.PaymentStatus = models.PaymentPending
			b.PaymentAmount = amount
		}

		if err := tx.Bookings().CreateBooking(ctx, b); err != nil {
			return storeErr(op, "booking", b.ID, err)
		}

		note, err = s.notifier.Emit(ctx, tx, user.ID, "Booking Submitted",
			fmt.Sprintf("Your booking request for %s on %s has been submitted and is awaiting approval.", lab.Name, slotText(b)),
			models.NotificationInfo)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(booking, events.EventBookingSubmitted, req.UserID, "", note)
	return booking, nil
}

func (s *BookingService) ApproveBooking(ctx context.Context, bookingID, adminID string) (*models.Booking, error) {
	const op = "ApproveBooking"
	b, note, err := s.mutate(ctx, op, bookingID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return nil, err
		}
		if b.Status != models.StatusPending {
			return nil, domain.InvalidState(op, "booking %s is %s, only pending bookings can be approved", b.ID, b.Status)
		}
		b.Status = models.StatusApproved
		b.DecidedBy = adminID

		lab := labName(ctx, tx, b.LabID)
		if b.HasPayment() {
			return s.notifier.Emit(ctx, tx, b.UserID, "Booking Approved - Payment Required",
				fmt.Sprintf("Your booking for %s on %s has been approved. Please complete the payment of %s to confirm it.",
					lab, slotText(b), FormatAmount(b.PaymentAmount, s.policy.Currency)),
				models.NotificationWarning)
		}
		return s.notifier.Emit(ctx, tx, b.UserID, "Booking Approved",
			fmt.Sprintf("Your booking for %s on %s has been approved.", lab, slotText(b)),
			models.NotificationSuccess)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(b, events.EventBookingApproved, adminID, "", note)
	return b, nil
}

func (s *BookingService) RejectBooking(ctx context.Context, bookingID, adminID, reason string) (*models.Booking, error) {
	const op = "RejectBooking"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ValidationFields(op, map[string]string{"reason": "is required"})
	}

	b, note, err := s.mutate(ctx, op, bookingID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return nil, err
		}
		if b.Status != models.StatusPending {
			return nil, domain.InvalidState(op, "booking %s is %s, only pending bookings can be rejected", b.ID, b.Status)
		}
		b.Status = models.StatusRejected
		b.DecisionReason = reason
		b.DecidedBy = adminID

		return s.notifier.Emit(ctx, tx, b.UserID, "Booking Rejected",
			fmt.Sprintf("Your booking for %s on %s has been rejected. Reason: %s", labName(ctx, tx, b.LabID), slotText(b), reason),
			models.NotificationError)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(b, events.EventBookingRejected, adminID, reason, note)
	return b, nil
}

// ModifyRequest replaces the slot and purpose of a pending booking. An empty
// LabID keeps the current lab.
type ModifyRequest struct {
	BookingID string
	UserID    string
	LabID     string
	Date      time.Time
	Start     models.TimeOfDay
	End       models.TimeOfDay
	Purpose   string
}

// ModifyBooking edits a pending booking in place. It holds the booking lock
// and the slot locks of both the old and the new lab day.
func (s *BookingService) ModifyBooking(ctx context.Context, req ModifyRequest) (*models.Booking, error) {
	const op = "ModifyBooking"
	if req.Start >= req.End {
		return nil, domain.InvalidRange(op, req.Start, req.End)
	}

	current, err := loadBooking(ctx, s.store, op, req.BookingID)
	if err != nil {
		return nil, err
	}
	labID := req.LabID
	if labID == "" {
		labID = current.LabID
	}
	date := models.DateOnly(req.Date)

	release, err := lock.AcquireAll(ctx, s.locker, s.policy.LockWait,
		lock.BookingKey(current.ID),
		lock.SlotKey(current.LabID, models.DateOnly(current.Date)),
		lock.SlotKey(labID, date),
	)
	if err != nil {
		return nil, lockErr(op, err)
	}
	defer release()

	b, note, err := s.mutateLocked(ctx, op, current.ID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if b.UserID != req.UserID {
			return nil, domain.Permission(op, "only the owner can modify booking %s", b.ID)
		}
		if b.LabID != current.LabID || !models.DateOnly(b.Date).Equal(models.DateOnly(current.Date)) {
			return nil, domain.Conflict(op, "booking %s was moved concurrently, retry", b.ID)
		}
		user, err := activeUser(ctx, tx, op, req.UserID)
		if err != nil {
			return nil, err
		}
		if b.Status != models.StatusPending {
			return nil, domain.InvalidState(op, "booking %s is %s, only pending bookings can be modified", b.ID, b.Status)
		}

		lab, err := tx.Labs().GetLab(ctx, labID)
		if err != nil {
			return nil, storeErr(op, "lab", labID, err)
		}
		if err := s.validateSlot(op, lab, date, req.Start, req.End, req.Purpose); err != nil {
			return nil, err
		}
		if err := s.ensureFree(ctx, tx, op, lab.ID, date, req.Start, req.End, b.ID); err != nil {
			return nil, err
		}

		b.LabID = lab.ID
		b.Date = date
		b.StartTime = req.Start
		b.EndTime = req.End
		b.Purpose = strings.TrimSpace(req.Purpose)
		if b.HasPayment() {
			amount, err := s.pricing.Quote(ctx, lab, user, date, req.Start, req.End)
			if err != nil {
				return nil, fmt.Errorf("%s: failed to quote booking: %w", op, err)
			}
			b.PaymentAmount = amount
		}

		return s.notifier.Emit(ctx, tx, b.UserID, "Booking Modified",
			fmt.Sprintf("Your booking has been changed to %s on %s and is awaiting approval.", lab.Name, slotText(b)),
			models.NotificationInfo)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(b, events.EventBookingModified, req.UserID, "", note)
	return b, nil
}

// CancelBooking cancels a pending or approved booking for its owner. A paid
// booking moves to refund_pending and a refund is requested after commit.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, userID, reason string) (*models.Booking, error) {
	const op = "CancelBooking"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ValidationFields(op, map[string]string{"reason": "is required"})
	}

	refund := false
	b, note, err := s.mutate(ctx, op, bookingID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if b.UserID != userID {
			return nil, domain.Permission(op, "only the owner can cancel booking %s", b.ID)
		}
		if _, err := activeUser(ctx, tx, op, userID); err != nil {
			return nil, err
		}
		if !b.HoldsSlot() {
			return nil, domain.InvalidState(op, "booking %s is %s and cannot be cancelled", b.ID, b.Status)
		}
		b.Status = models.StatusCancelled
		b.CancelReason = reason

		msg := fmt.Sprintf("Your booking for %s on %s has been cancelled.", labName(ctx, tx, b.LabID), slotText(b))
		if b.PaymentStatus == models.PaymentPaid {
			b.PaymentStatus = models.PaymentRefundPending
			b.RefundOwed = true
			refund = true
			msg += fmt.Sprintf(" A refund of %s will be issued.", FormatAmount(b.PaymentAmount, s.policy.Currency))
		}
		return s.notifier.Emit(ctx, tx, b.UserID, "Booking Cancelled", msg, models.NotificationInfo)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(b, events.EventBookingCancelled, userID, reason, note)
	if refund {
		s.publish(events.EventRefundRequested, b, userID, reason)
	}
	return b, nil
}

// CompleteBooking closes an approved booking whose slot has ended. Completing
// an already completed booking succeeds without side effects.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	const op = "CompleteBooking"
	b, note, err := s.mutate(ctx, op, bookingID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if b.Status == models.StatusCompleted {
			return nil, errNoop
		}
		if b.Status != models.StatusApproved {
			return nil, domain.InvalidState(op, "booking %s is %s, only approved bookings can be completed", b.ID, b.Status)
		}
		if !s.now().After(b.EndsAt(s.policy.Location)) {
			return nil, domain.InvalidState(op, "booking %s has not ended yet", b.ID)
		}
		b.Status = models.StatusCompleted

		return s.notifier.Emit(ctx, tx, b.UserID, "Booking Completed",
			fmt.Sprintf("Your booking for %s on %s has been completed.", labName(ctx, tx, b.LabID), slotText(b)),
			models.NotificationSuccess)
	})
	if errors.Is(err, errNoop) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	s.afterCommit(b, events.EventBookingCompleted, "system", "", note)
	return b, nil
}

// GetBooking returns a booking to its owner or an admin.
func (s *BookingService) GetBooking(ctx context.Context, actorID, bookingID string) (*models.Booking, error) {
	const op = "GetBooking"
	b, err := loadBooking(ctx, s.store, op, bookingID)
	if err != nil {
		return nil, err
	}
	if err := requireSelfOrAdmin(ctx, s.store, op, actorID, b.UserID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, actorID, userID string) ([]*models.Booking, error) {
	const op = "ListUserBookings"
	if err := requireSelfOrAdmin(ctx, s.store, op, actorID, userID); err != nil {
		return nil, err
	}
	list, err := s.store.Bookings().ListBookings(ctx, models.BookingFilter{UserID: userID})
	if err != nil {
		return nil, storeErr(op, "booking", userID, err)
	}
	return list, nil
}

// ListBookings is the admin approval queue.
func (s *BookingService) ListBookings(ctx context.Context, actorID string, filter models.BookingFilter) ([]*models.Booking, error) {
	const op = "ListBookings"
	if _, err := requireAdmin(ctx, s.store, op, actorID); err != nil {
		return nil, err
	}
	for _, st := range filter.Statuses {
		if !models.IsValidBookingStatus(st) {
			return nil, domain.ValidationFields(op, map[string]string{"status": fmt.Sprintf("unknown status %q", st)})
		}
	}
	list, err := s.store.Bookings().ListBookings(ctx, filter)
	if err != nil {
		return nil, storeErr(op, "booking", "", err)
	}
	return list, nil
}

func (s *BookingService) validateSlot(op string, lab *models.Lab, date time.Time, start, end models.TimeOfDay, purpose string) error {
	if lab.Status == models.LabMaintenance {
		return domain.Validation(op, "lab %s is under maintenance", lab.ID)
	}
	if start >= end {
		return domain.InvalidRange(op, start, end)
	}
	if !start.Valid() || !end.Valid() {
		return domain.Validation(op, "times must fall within one day")
	}
	if d := (end - start).Offset(); d > s.policy.MaxDuration {
		return domain.Validation(op, "booking lasts %s, at most %s is allowed", d, s.policy.MaxDuration)
	}
	earliest := s.now().Add(s.policy.MinLeadTime)
	if !models.At(date, start, s.policy.Location).After(earliest) {
		return domain.Validation(op, "bookings must start at least %s from now", s.policy.MinLeadTime)
	}
	if strings.TrimSpace(purpose) == "" {
		return domain.ValidationFields(op, map[string]string{"purpose": "is required"})
	}
	return nil
}

func (s *BookingService) ensureFree(ctx context.Context, tx domain.Repositories, op, labID string, date time.Time, start, end models.TimeOfDay, exclude string) error {
	conflict, err := checkConflict(ctx, tx, labID, date, start, end, exclude)
	if err != nil {
		return err
	}
	if conflict {
		return domain.Conflict(op, "lab %s is already booked on %s between %s and %s",
			labID, date.Format(models.DateLayout), start, end)
	}
	return nil
}

// transition edits a loaded booking inside a transaction and returns the
// notification it emitted.
type transition func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error)

func (s *BookingService) mutate(ctx context.Context, op, bookingID string, fn transition) (*models.Booking, *models.Notification, error) {
	release, err := lock.AcquireAll(ctx, s.locker, s.policy.LockWait, lock.BookingKey(bookingID))
	if err != nil {
		return nil, nil, lockErr(op, err)
	}
	defer release()
	return s.mutateLocked(ctx, op, bookingID, fn)
}

// mutateLocked expects the caller to hold the booking lock. On errNoop it
// returns the unchanged booking together with errNoop.
func (s *BookingService) mutateLocked(ctx context.Context, op, bookingID string, fn transition) (*models.Booking, *models.Notification, error) {
	var (
		booking *models.Booking
		note    *models.Notification
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		b, err := loadBooking(ctx, tx, op, bookingID)
		if err != nil {
			return err
		}
		booking = b.Clone()

		n, err := fn(ctx, tx, b)
		if err != nil {
			return err
		}
		b.UpdatedAt = s.now().UTC()
		if err := tx.Bookings().UpdateBooking(ctx, b); err != nil {
			return storeErr(op, "booking", b.ID, err)
		}
		booking, note = b, n
		return nil
	})
	if errors.Is(err, errNoop) {
		return booking, nil, errNoop
	}
	if err != nil {
		return nil, nil, err
	}
	return booking, note, nil
}

func (s *BookingService) afterCommit(b *models.Booking, eventType, actorID, reason string, notes ...*models.Notification) {
	metrics.IncBookingTransition(b.Status)
	s.notifier.Publish(notes...)
	s.publish(eventType, b, actorID, reason)
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("lab_id", b.LabID).
		Str("status", b.Status).
		Str("payment_status", b.PaymentStatus).
		Str("event", eventType).
		Msg("Booking updated")
}

func (s *BookingService) publish(eventType string, b *models.Booking, actorID, reason string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, events.NewBookingPayload(b, actorID, reason)); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Str("event", eventType).Msg("publish booking event error")
	}
}

func labName(ctx context.Context, repos domain.Repositories, labID string) string {
	lab, err := repos.Labs().GetLab(ctx, labID)
	if err != nil {
		return labID
	}
	return lab.Name
}

func slotText(b *models.Booking) string {
	return fmt.Sprintf("%s from %s to %s", b.Date.Format(models.DateLayout), b.StartTime, b.EndTime)
}
