package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between engine instances. Each lock carries a TTL
// so a crashed holder cannot block a calendar day forever.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:        client,
		prefix:        "lock:",
		ttl:           ttl,
		retryInterval: 25 * time.Millisecond,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	token := uuid.NewString()
	redisKey := l.prefix + key
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release must run even when the request context is gone.
				_ = unlockScript.Run(context.Background(), l.client, []string{redisKey}, token).Err()
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, busy(key, nil)
		}

		pause := l.retryInterval
		if remaining < pause {
			pause = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}
