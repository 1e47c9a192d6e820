package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker maps keys onto session-level advisory locks. A lock is tied
// to the pooled connection that took it, so the connection is held until
// release.
type PostgresLocker struct {
	pool          *pgxpool.Pool
	retryInterval time.Duration
}

// NewPostgresLocker connects a pool and verifies it.
func NewPostgresLocker(ctx context.Context, dsn string) (*PostgresLocker, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresLocker{pool: pool, retryInterval: 25 * time.Millisecond}, nil
}

func (l *PostgresLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire postgres connection: %w", err)
	}

	deadline := time.Now().Add(wait)
	for {
		var ok bool
		err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtextextended($1, 0))", key).Scan(&ok)
		if err != nil {
			conn.Release()
			return nil, fmt.Errorf("failed to take advisory lock %s: %w", key, err)
		}
		if ok {
			return func() {
				_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock(hashtextextended($1, 0))", key)
				conn.Release()
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			conn.Release()
			return nil, busy(key, nil)
		}

		pause := l.retryInterval
		if remaining < pause {
			pause = remaining
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (l *PostgresLocker) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}
