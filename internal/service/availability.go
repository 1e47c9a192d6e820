package service

import (
	"context"
	"sort"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"
)

// AvailabilityService answers slot questions without taking locks.
type AvailabilityService struct {
	store domain.Store
}

func NewAvailabilityService(store domain.Store) *AvailabilityService {
	return &AvailabilityService{store: store}
}

// CheckConflict reports whether [start, end) on labID and date overlaps a
// pending or approved booking other than excludeBookingID.
func (s *AvailabilityService) CheckConflict(ctx context.Context, labID string, date time.Time, start, end models.TimeOfDay, excludeBookingID string) (bool, error) {
	const op = "CheckConflict"
	if start >= end {
		return false, domain.InvalidRange(op, start, end)
	}
	if _, err := s.store.Labs().GetLab(ctx, labID); err != nil {
		return false, storeErr(op, "lab", labID, err)
	}
	return checkConflict(ctx, s.store, labID, date, start, end, excludeBookingID)
}

// BusyIntervals lists the held intervals of a lab day in start order.
func (s *AvailabilityService) BusyIntervals(ctx context.Context, labID string, date time.Time) ([]models.Interval, error) {
	const op = "BusyIntervals"
	if _, err := s.store.Labs().GetLab(ctx, labID); err != nil {
		return nil, storeErr(op, "lab", labID, err)
	}

	bookings, err := s.store.Bookings().ListLabBookings(ctx, labID, models.DateOnly(date))
	if err != nil {
		return nil, storeErr(op, "booking", labID, err)
	}

	busy := make([]models.Interval, 0, len(bookings))
	for _, b := range bookings {
		if !b.HoldsSlot() {
			continue
		}
		busy = append(busy, models.Interval{Start: b.StartTime, End: b.EndTime, Status: b.Status})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })
	return busy, nil
}

func checkConflict(ctx context.Context, repos domain.Repositories, labID string, date time.Time, start, end models.TimeOfDay, excludeBookingID string) (bool, error) {
	bookings, err := repos.Bookings().ListLabBookings(ctx, labID, models.DateOnly(date))
	if err != nil {
		return false, storeErr("CheckConflict", "booking", labID, err)
	}
	for _, b := range bookings {
		if b.ID == excludeBookingID {
			continue
		}
		if b.ConflictsWith(labID, date, start, end) {
			return true, nil
		}
	}
	return false, nil
}
