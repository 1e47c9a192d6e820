package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labreserve/internal/config"
	"labreserve/internal/models"

	"github.com/redis/go-redis/v9"
)

type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: client,
		prefix: "idempotency:",
	}
}

func (r *RedisIdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}

	claim := models.IdempotencyRecord{Key: key, InFlight: true, CreatedAt: time.Now()}
	data, err := json.Marshal(claim)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	// A record can expire between SETNX and GET; one retry covers that.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.client.SetNX(ctx, r.prefix+key, data, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if ok {
			return nil, true, nil
		}

		val, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to get idempotency record: %w", err)
		}

		var existing models.IdempotencyRecord
		if err := json.Unmarshal(val, &existing); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
		}
		return &existing, false, nil
	}

	return nil, false, fmt.Errorf("idempotency key %s flapped between claim and read", key)
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, record *models.IdempotencyRecord, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	rec := *record
	rec.InFlight = false
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+rec.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
