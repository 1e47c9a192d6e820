package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"labreserve/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.IdempotencyRecord), args.Bool(1), args.Error(2)
}

func (m *mockIdempotencyStore) Complete(ctx context.Context, record *models.IdempotencyRecord, ttl time.Duration) error {
	return m.Called(ctx, record, ttl).Error(0)
}

func (m *mockIdempotencyStore) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestFailoverIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary := new(mockIdempotencyStore)
		fallback := new(mockIdempotencyStore)
		repo := NewFailoverIdempotencyStore(primary, fallback, &logger)

		primary.On("Begin", ctx, "k", time.Minute).Return(nil, true, nil).Once()

		_, started, err := repo.Begin(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, started)
		primary.AssertExpectations(t)
		fallback.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FallbackAfterPrimaryError", func(t *testing.T) {
		primary := new(mockIdempotencyStore)
		fallback := new(mockIdempotencyStore)
		repo := NewFailoverIdempotencyStore(primary, fallback, &logger)

		primary.On("Begin", ctx, "k", time.Minute).Return(nil, false, errors.New("redis down")).Once()
		fallback.On("Begin", ctx, "k", time.Minute).Return(nil, true, nil).Twice()

		_, started, err := repo.Begin(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, started)
		assert.True(t, repo.isDown.Load())

		// Still inside the retry window: primary is skipped.
		_, _, err = repo.Begin(ctx, "k", time.Minute)
		require.NoError(t, err)
		primary.AssertNumberOfCalls(t, "Begin", 1)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoversAfterWindow", func(t *testing.T) {
		primary := new(mockIdempotencyStore)
		fallback := new(mockIdempotencyStore)
		repo := NewFailoverIdempotencyStore(primary, fallback, &logger)
		repo.isDown.Store(true)
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		rec := &models.IdempotencyRecord{Key: "k", StatusCode: 200}
		primary.On("Begin", ctx, "k", time.Minute).Return(rec, false, nil).Once()

		got, started, err := repo.Begin(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, started)
		assert.Equal(t, rec, got)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("CompleteFallsBack", func(t *testing.T) {
		primary := new(mockIdempotencyStore)
		fallback := new(mockIdempotencyStore)
		repo := NewFailoverIdempotencyStore(primary, fallback, &logger)

		rec := &models.IdempotencyRecord{Key: "k"}
		primary.On("Complete", ctx, rec, time.Hour).Return(errors.New("redis down")).Once()
		fallback.On("Complete", ctx, rec, time.Hour).Return(nil).Once()

		assert.NoError(t, repo.Complete(ctx, rec, time.Hour))
		fallback.AssertExpectations(t)
	})

	t.Run("ReleaseClearsBoth", func(t *testing.T) {
		primary := new(mockIdempotencyStore)
		fallback := new(mockIdempotencyStore)
		repo := NewFailoverIdempotencyStore(primary, fallback, &logger)

		fallback.On("Release", ctx, "k").Return(nil).Once()
		primary.On("Release", ctx, "k").Return(nil).Once()

		assert.NoError(t, repo.Release(ctx, "k"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
