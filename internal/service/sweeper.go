package service

import (
	"context"
	"time"

	"labreserve/internal/models"

	"github.com/rs/zerolog"
)

// CompletionSweeper periodically completes approved bookings whose slot has
// ended.
type CompletionSweeper struct {
	bookings *BookingService
	interval time.Duration
	logger   *zerolog.Logger
}

func NewCompletionSweeper(bookings *BookingService, interval time.Duration, logger *zerolog.Logger) *CompletionSweeper {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	return &CompletionSweeper{bookings: bookings, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled.
func (s *CompletionSweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Completion sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce completes what is due and returns how many bookings changed.
// Failures are logged and skipped.
func (s *CompletionSweeper) SweepOnce(ctx context.Context) int {
	now := s.bookings.now()
	loc := s.bookings.policy.Location

	due, err := s.bookings.store.Bookings().ListBookings(ctx, models.BookingFilter{
		Statuses: []string{models.StatusApproved},
		To:       now.In(loc),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list bookings to complete")
		return 0
	}

	completed := 0
	for _, b := range due {
		if !now.After(b.EndsAt(loc)) {
			continue
		}
		if _, err := s.bookings.CompleteBooking(ctx, b.ID); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("Failed to complete booking")
			continue
		}
		completed++
	}

	if completed > 0 {
		s.logger.Info().Int("completed", completed).Msg("Sweep finished")
	}
	return completed
}
