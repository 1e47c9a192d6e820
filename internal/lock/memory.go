package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker. Entries are dropped once nobody
// holds or waits for them.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	sem  chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*memoryEntry)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	entry := l.ref(key)

	// Fast path keeps a zero wait usable for try-lock semantics.
	select {
	case entry.sem <- struct{}{}:
		return l.releaser(key, entry), nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return l.releaser(key, entry), nil
	case <-ctx.Done():
		l.unref(key, entry)
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(key, entry)
		return nil, busy(key, nil)
	}
}

func (l *MemoryLocker) releaser(key string, entry *memoryEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.unref(key, entry)
		})
	}
}

func (l *MemoryLocker) ref(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &memoryEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *MemoryLocker) unref(key string, entry *memoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// held is the number of keys with a holder or waiter.
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
