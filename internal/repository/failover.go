package repository

import (
	"context"
	"sync/atomic"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/rs/zerolog"
)

// FailoverIdempotencyStore uses primary (Redis) and drops to fallback
// (memory) after a primary error, probing primary again once a minute.
type FailoverIdempotencyStore struct {
	primary    domain.IdempotencyStore
	fallback   domain.IdempotencyStore
	logger     *zerolog.Logger
	isDown     atomic.Bool
	lastCheck  atomic.Int64
	retryAfter time.Duration
}

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	return &FailoverIdempotencyStore{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		retryAfter: time.Minute,
	}
}

func (r *FailoverIdempotencyStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary idempotency store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverIdempotencyStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > r.retryAfter
}

func (r *FailoverIdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	if r.usePrimary() {
		rec, started, err := r.primary.Begin(ctx, key, ttl)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary idempotency store recovered")
			}
			return rec, started, nil
		}
		r.markDown(err)
	}

	return r.fallback.Begin(ctx, key, ttl)
}

func (r *FailoverIdempotencyStore) Complete(ctx context.Context, record *models.IdempotencyRecord, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.Complete(ctx, record, ttl)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Complete(ctx, record, ttl)
}

func (r *FailoverIdempotencyStore) Release(ctx context.Context, key string) error {
	// Release both: the claim may live in either store after a failover.
	_ = r.fallback.Release(ctx, key)
	if r.usePrimary() {
		err := r.primary.Release(ctx, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return nil
}
