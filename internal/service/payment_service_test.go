package service

import (
	"context"
	"errors"
	"testing"

	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/models"
	"labreserve/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInitiatePayment_Preconditions(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()

	pending := f.submit(t, "5", "lab-1", "2026-02-01", "09:00", "11:00")
	_, err := f.payments.InitiatePayment(ctx, pending.ID, "5")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "not approved yet")

	internal := f.approved(t, "1", "lab-2", "2026-02-01", "09:00", "11:00")
	_, err = f.payments.InitiatePayment(ctx, internal.ID, "1")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "internal bookings have no payment")

	approved, err := f.bookings.ApproveBooking(ctx, pending.ID, "3")
	require.NoError(t, err)
	_, err = f.payments.InitiatePayment(ctx, approved.ID, "1")
	assert.ErrorIs(t, err, domain.ErrPermission)

	_, err = f.payments.InitiatePayment(ctx, "missing", "5")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.provider.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)
}

func TestInitiatePayment_ProviderErrorLeavesBooking(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()
	b := f.approved(t, "5", "lab-1", "2026-02-01", "09:00", "11:00")

	f.provider.On("CreateIntent", mock.Anything, b.ID).Return("", errors.New("gateway timeout")).Once()
	_, err := f.payments.InitiatePayment(ctx, b.ID, "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")
	assert.Empty(t, domain.KindOf(err))

	stored := f.reload(t, b.ID)
	assert.Empty(t, stored.PaymentIntentID)
	assert.Equal(t, b.Version, stored.Version)
}

func TestPayment_FailureThenRetry(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		b := f.approved(t, "5", "lab-1", "2026-02-01", "09:00", "11:00")

		_, err := f.payments.ConfirmPayment(ctx, b.ID, "5", models.OutcomeSuccess, "txn")
		assert.ErrorIs(t, err, domain.ErrInvalidState, "no intent yet")

		f.provider.On("CreateIntent", mock.Anything, b.ID).Return("pi_1", nil).Once()
		_, err = f.payments.InitiatePayment(ctx, b.ID, "5")
		require.NoError(t, err)

		b, err = f.payments.ConfirmPayment(ctx, b.ID, "5", models.OutcomeFailure, "declined")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, b.PaymentStatus)
		assert.False(t, IsConfirmed(b))

		_, err = f.payments.ConfirmPayment(ctx, b.ID, "5", models.OutcomeSuccess, "txn")
		assert.ErrorIs(t, err, domain.ErrInvalidState, "failed payments must be initiated again")

		f.provider.On("CreateIntent", mock.Anything, b.ID).Return("pi_2", nil).Once()
		intent, err := f.payments.InitiatePayment(ctx, b.ID, "5")
		require.NoError(t, err)
		assert.Equal(t, "pi_2", intent)

		stored := f.reload(t, b.ID)
		assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
		assert.Equal(t, "pi_2", stored.PaymentIntentID)
		assert.Empty(t, stored.PaymentReference)

		// Admins may confirm on the owner's behalf.
		b, err = f.payments.ConfirmPayment(ctx, b.ID, "3", models.OutcomeSuccess, "txn-2")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, b.PaymentStatus)

		f.provider.AssertExpectations(t)
		assert.Equal(t, 2, f.events.count(events.EventPaymentInitiated))
		assert.Equal(t, 1, f.events.count(events.EventPaymentFailed))
		assert.Equal(t, 1, f.events.count(events.EventPaymentSucceeded))

		titles := f.titles(t, "5")
		assert.Contains(t, titles, "Payment Failed")
		assert.Contains(t, titles, "Payment Successful")
	})
}

func TestConfirmPayment_Rules(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()
	b := f.paid(t, "lab-1", "2026-02-01", "09:00", "11:00")

	_, err := f.payments.ConfirmPayment(ctx, b.ID, "5", "maybe", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.payments.ConfirmPayment(ctx, b.ID, "1", models.OutcomeSuccess, "")
	assert.ErrorIs(t, err, domain.ErrPermission)

	_, err = f.payments.ConfirmPayment(ctx, b.ID, "5", models.OutcomeSuccess, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "already paid")

	_, err = f.payments.InitiatePayment(ctx, b.ID, "5")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestProcessRefund_ProviderFailure(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()
	b := f.paid(t, "lab-1", "2026-02-01", "09:00", "11:00")
	_, err := f.bookings.CancelBooking(ctx, b.ID, "5", "cannot attend")
	require.NoError(t, err)

	f.provider.On("Refund", mock.Anything, b.ID).Return(errors.New("provider down")).Once()
	err = f.payments.ProcessRefund(ctx, b.ID)
	require.Error(t, err)

	stored := f.reload(t, b.ID)
	assert.Equal(t, models.PaymentRefundPending, stored.PaymentStatus)
	assert.True(t, stored.RefundOwed)

	f.provider.On("Refund", mock.Anything, b.ID).Return(nil).Once()
	require.NoError(t, f.payments.ProcessRefund(ctx, b.ID))
	assert.Equal(t, models.PaymentRefunded, f.reload(t, b.ID).PaymentStatus)
}

func TestRefund_NotOwed(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore(), BookingPolicy{})
	ctx := context.Background()
	b := f.paid(t, "lab-1", "2026-02-01", "09:00", "11:00")

	assert.ErrorIs(t, f.payments.ProcessRefund(ctx, b.ID), domain.ErrInvalidState)
	assert.ErrorIs(t, f.payments.MarkRefunded(ctx, b.ID), domain.ErrInvalidState)
	f.provider.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}
