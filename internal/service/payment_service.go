package service

import (
	"context"
	"errors"
	"fmt"

	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/lock"
	"labreserve/internal/models"

	"github.com/rs/zerolog"
)

// PaymentService gates external bookings on payment. It writes through the
// booking service so every transition shares the same locks and hooks.
type PaymentService struct {
	bookings *BookingService
	provider domain.PaymentProvider
	logger   *zerolog.Logger
}

func NewPaymentService(bookings *BookingService, provider domain.PaymentProvider, logger *zerolog.Logger) *PaymentService {
	return &PaymentService{
		bookings: bookings,
		provider: provider,
		logger:   logger,
	}
}

// IsConfirmed reports whether b grants lab access.
func IsConfirmed(b *models.Booking) bool { return b.IsConfirmed() }

// InitiatePayment opens a provider intent for an approved external booking.
// A failed payment may be retried; it is reset to pending. The provider is
// called outside the store transaction while the booking lock is held.
func (s *PaymentService) InitiatePayment(ctx context.Context, bookingID, userID string) (string, error) {
	const op = "InitiatePayment"
	store := s.bookings.store

	release, err := lock.AcquireAll(ctx, s.bookings.locker, s.bookings.policy.LockWait, lock.BookingKey(bookingID))
	if err != nil {
		return "", lockErr(op, err)
	}
	defer release()

	b, err := loadBooking(ctx, store, op, bookingID)
	if err != nil {
		return "", err
	}
	if b.UserID != userID {
		return "", domain.Permission(op, "only the owner can pay for booking %s", b.ID)
	}
	if _, err := activeUser(ctx, store, op, userID); err != nil {
		return "", err
	}
	if !b.HasPayment() {
		return "", domain.InvalidState(op, "booking %s does not require payment", b.ID)
	}
	if b.Status != models.StatusApproved {
		return "", domain.InvalidState(op, "booking %s is %s, payment opens after approval", b.ID, b.Status)
	}
	if b.PaymentStatus != models.PaymentPending && b.PaymentStatus != models.PaymentFailed {
		return "", domain.InvalidState(op, "payment for booking %s is %s", b.ID, b.PaymentStatus)
	}

	intentID, err := s.provider.CreateIntent(ctx, b)
	if err != nil {
		return "", fmt.Errorf("%s: %s provider: %w", op, s.provider.Name(), err)
	}

	updated, _, err := s.bookings.mutateLocked(ctx, op, bookingID, func(_ context.Context, _ domain.Repositories, cur *models.Booking) (*models.Notification, error) {
		if cur.Version != b.Version {
			return nil, domain.Conflict(op, "booking %s was modified concurrently", cur.ID)
		}
		cur.PaymentStatus = models.PaymentPending
		cur.PaymentIntentID = intentID
		cur.PaymentReference = ""
		return nil, nil
	})
	if err != nil {
		return "", err
	}

	s.bookings.afterCommit(updated, events.EventPaymentInitiated, userID, "")
	s.logger.Info().Str("booking_id", bookingID).Str("provider", s.provider.Name()).Str("intent_id", intentID).Msg("Payment initiated")
	return intentID, nil
}

// ConfirmPayment records the provider outcome reported by the owner or an
// admin.
func (s *PaymentService) ConfirmPayment(ctx context.Context, bookingID, actorID, outcome, reference string) (*models.Booking, error) {
	const op = "ConfirmPayment"
	if outcome != models.OutcomeSuccess && outcome != models.OutcomeFailure {
		return nil, domain.ValidationFields(op, map[string]string{"outcome": "must be success or failure"})
	}

	currency := s.bookings.policy.Currency
	notifier := s.bookings.notifier
	b, note, err := s.bookings.mutate(ctx, op, bookingID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if err := requireSelfOrAdmin(ctx, tx, op, actorID, b.UserID); err != nil {
			return nil, err
		}
		if !b.HasPayment() {
			return nil, domain.InvalidState(op, "booking %s does not require payment", b.ID)
		}
		if b.Status != models.StatusApproved {
			return nil, domain.InvalidState(op, "booking %s is %s", b.ID, b.Status)
		}
		if b.PaymentIntentID == "" {
			return nil, domain.InvalidState(op, "payment for booking %s was not initiated", b.ID)
		}
		if b.PaymentStatus != models.PaymentPending {
			return nil, domain.InvalidState(op, "payment for booking %s is %s", b.ID, b.PaymentStatus)
		}

		lab := labName(ctx, tx, b.LabID)
		b.PaymentReference = reference
		if outcome == models.OutcomeSuccess {
			b.PaymentStatus = models.PaymentPaid
			return notifier.Emit(ctx, tx, b.UserID, "Payment Successful",
				fmt.Sprintf("Payment of %s for %s on %s was received. Your booking is confirmed.",
					FormatAmount(b.PaymentAmount, currency), lab, slotText(b)),
				models.NotificationSuccess)
		}
		b.PaymentStatus = models.PaymentFailed
		return notifier.Emit(ctx, tx, b.UserID, "Payment Failed",
			fmt.Sprintf("Payment for %s on %s did not go through. Please try again.", lab, slotText(b)),
			models.NotificationWarning)
	})
	if err != nil {
		return nil, err
	}

	eventType := events.EventPaymentSucceeded
	if outcome == models.OutcomeFailure {
		eventType = events.EventPaymentFailed
	}
	s.bookings.afterCommit(b, eventType, actorID, reference, note)
	return b, nil
}

// ProcessRefund asks the provider to refund a cancelled paid booking and
// records the refund. A booking already refunded is left alone.
func (s *PaymentService) ProcessRefund(ctx context.Context, bookingID string) error {
	const op = "ProcessRefund"

	release, err := lock.AcquireAll(ctx, s.bookings.locker, s.bookings.policy.LockWait, lock.BookingKey(bookingID))
	if err != nil {
		return lockErr(op, err)
	}
	defer release()

	b, err := loadBooking(ctx, s.bookings.store, op, bookingID)
	if err != nil {
		return err
	}
	switch b.PaymentStatus {
	case models.PaymentRefunded:
		return nil
	case models.PaymentRefundPending:
	default:
		return domain.InvalidState(op, "booking %s has no refund pending", b.ID)
	}

	if err := s.provider.Refund(ctx, b); err != nil {
		return fmt.Errorf("%s: %s provider: %w", op, s.provider.Name(), err)
	}
	return s.markRefunded(ctx, op, bookingID)
}

// MarkRefunded records a refund confirmed outside the engine. Idempotent.
func (s *PaymentService) MarkRefunded(ctx context.Context, bookingID string) error {
	const op = "MarkRefunded"
	release, err := lock.AcquireAll(ctx, s.bookings.locker, s.bookings.policy.LockWait, lock.BookingKey(bookingID))
	if err != nil {
		return lockErr(op, err)
	}
	defer release()
	return s.markRefunded(ctx, op, bookingID)
}

func (s *PaymentService) markRefunded(ctx context.Context, op, bookingID string) error {
	currency := s.bookings.policy.Currency
	notifier := s.bookings.notifier
	b, note, err := s.bookings.mutateLocked(ctx, op, bookingID, func(ctx context.Context, tx domain.Repositories, b *models.Booking) (*models.Notification, error) {
		if b.PaymentStatus == models.PaymentRefunded {
			return nil, errNoop
		}
		if b.PaymentStatus != models.PaymentRefundPending {
			return nil, domain.InvalidState(op, "booking %s has no refund pending", b.ID)
		}
		b.PaymentStatus = models.PaymentRefunded
		b.RefundOwed = false

		return notifier.Emit(ctx, tx, b.UserID, "Refund Issued",
			fmt.Sprintf("A refund of %s for your cancelled booking of %s on %s has been issued.",
				FormatAmount(b.PaymentAmount, currency), labName(ctx, tx, b.LabID), slotText(b)),
			models.NotificationSuccess)
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return err
	}
	s.bookings.afterCommit(b, events.EventRefundIssued, "system", "", note)
	return nil
}
