// Package lock provides the named exclusive locks that serialize booking
// writes per lab calendar day.
package lock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"
)

// SlotKey names the lock guarding one lab's calendar day.
func SlotKey(labID string, date time.Time) string {
	return fmt.Sprintf("slot:%s:%s", labID, date.Format(models.DateLayout))
}

// BookingKey names the lock guarding a single booking's transitions.
func BookingKey(id string) string {
	return "booking:" + id
}

// AcquireAll takes every key in sorted order, so concurrent callers never
// deadlock, and returns a release func that frees them in reverse. Booking
// keys sort before slot keys. The wait budget is shared across keys.
func AcquireAll(ctx context.Context, locker domain.Locker, wait time.Duration, keys ...string) (func(), error) {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, k)
	}
	sort.Strings(unique)

	deadline := time.Now().Add(wait)
	releases := make([]func(), 0, len(unique))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range unique {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		release, err := locker.Acquire(ctx, key, remaining)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	return releaseAll, nil
}

func busy(key string, cause error) error {
	return domain.ResourceBusy("lock.Acquire", key, cause)
}
