// Package service holds the booking engine: availability, lifecycle,
// payments, notifications and the admin catalog operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/metrics"
	"labreserve/internal/models"
)

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// storeErr translates storage sentinels for op. Anything unknown is wrapped
// and surfaces as an internal failure.
func storeErr(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domain.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, domain.ErrRecordNotFound):
		return domain.NotFound(op, entity, id)
	case errors.Is(err, domain.ErrDuplicateRecord):
		return domain.Conflict(op, "%s %q already exists", entity, id)
	case errors.Is(err, domain.ErrConcurrentModification):
		return domain.Conflict(op, "%s %q was modified concurrently", entity, id)
	default:
		return fmt.Errorf("%s: failed to access %s: %w", op, entity, err)
	}
}

func loadUser(ctx context.Context, repos domain.Repositories, op, id string) (*models.User, error) {
	u, err := repos.Users().GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(op, "user", id, err)
	}
	return u, nil
}

// activeUser loads id and rejects inactive accounts.
func activeUser(ctx context.Context, repos domain.Repositories, op, id string) (*models.User, error) {
	u, err := loadUser(ctx, repos, op, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive() {
		return nil, domain.Permission(op, "user %s is inactive", id)
	}
	return u, nil
}

func requireAdmin(ctx context.Context, repos domain.Repositories, op, id string) (*models.User, error) {
	u, err := activeUser(ctx, repos, op, id)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin() {
		return nil, domain.Permission(op, "admin role required")
	}
	return u, nil
}

// requireSelfOrAdmin allows actor to read subject's data.
func requireSelfOrAdmin(ctx context.Context, repos domain.Repositories, op, actorID, subjectID string) error {
	if actorID == subjectID {
		_, err := activeUser(ctx, repos, op, actorID)
		return err
	}
	_, err := requireAdmin(ctx, repos, op, actorID)
	return err
}

func loadBooking(ctx context.Context, repos domain.Repositories, op, id string) (*models.Booking, error) {
	b, err := repos.Bookings().GetBooking(ctx, id)
	if err != nil {
		return nil, storeErr(op, "booking", id, err)
	}
	return b, nil
}

// lockErr counts lock timeouts before returning err unchanged.
func lockErr(op string, err error) error {
	if errors.Is(err, domain.ErrResourceBusy) {
		metrics.IncLockTimeout(op)
	}
	return err
}
