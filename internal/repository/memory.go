package repository

import (
	"context"
	"sync"
	"time"

	"labreserve/internal/models"
)

// MemoryIdempotencyStore keeps idempotency records in process memory.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	record    models.IdempotencyRecord
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (r *MemoryIdempotencyStore) Begin(_ context.Context, key string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if entry, ok := r.records[key]; ok && now.Before(entry.expiresAt) {
		rec := entry.record
		return &rec, false, nil
	}

	r.records[key] = memoryRecord{
		record:    models.IdempotencyRecord{Key: key, InFlight: true, CreatedAt: now},
		expiresAt: now.Add(ttl),
	}
	r.evictExpired(now)
	return nil, true, nil
}

func (r *MemoryIdempotencyStore) Complete(_ context.Context, record *models.IdempotencyRecord, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := *record
	rec.InFlight = false
	r.records[rec.Key] = memoryRecord{record: rec, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}

// evictExpired keeps the map bounded; callers hold mu.
func (r *MemoryIdempotencyStore) evictExpired(now time.Time) {
	for key, entry := range r.records {
		if !now.Before(entry.expiresAt) {
			delete(r.records, key)
		}
	}
}
