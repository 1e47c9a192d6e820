// Package payment holds the external payment collaborators.
package payment

import (
	"context"
	"errors"
	"sync"

	"labreserve/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalProvider issues intents in process and treats refunds as settled. It
// stands in for a gateway in development and tests.
type LocalProvider struct {
	mu      sync.Mutex
	intents map[string]string // intent id -> booking id
	refunds map[string]int64  // booking id -> refunded amount
	logger  *zerolog.Logger
}

func NewLocalProvider(logger *zerolog.Logger) *LocalProvider {
	return &LocalProvider{
		intents: make(map[string]string),
		refunds: make(map[string]int64),
		logger:  logger,
	}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) CreateIntent(_ context.Context, b *models.Booking) (string, error) {
	if b.PaymentAmount <= 0 {
		return "", errors.New("booking has nothing to pay")
	}
	id := "pi_" + uuid.NewString()

	p.mu.Lock()
	p.intents[id] = b.ID
	p.mu.Unlock()

	p.logger.Debug().Str("intent_id", id).Str("booking_id", b.ID).Int64("amount", b.PaymentAmount).Msg("local intent created")
	return id, nil
}

func (p *LocalProvider) Refund(_ context.Context, b *models.Booking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.intents[b.PaymentIntentID]; !ok {
		return errors.New("unknown payment intent " + b.PaymentIntentID)
	}
	p.refunds[b.ID] = b.PaymentAmount
	p.logger.Debug().Str("booking_id", b.ID).Int64("amount", b.PaymentAmount).Msg("local refund issued")
	return nil
}

// Refunded returns the amount refunded for bookingID.
func (p *LocalProvider) Refunded(bookingID string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount, ok := p.refunds[bookingID]
	return amount, ok
}
