package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rounds:"

// RedisKV stores values in Redis under a shared prefix, for deployments where
// the daemon keeps its state alongside other assistant services.
type RedisKV struct {
	client   *redis.Client
	maxBytes int64
}

// NewRedisKV connects to Redis at redisURL and verifies the connection.
// maxBytes <= 0 disables the byte budget.
func NewRedisKV(redisURL string, maxBytes int64) (*RedisKV, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisKV{client: client, maxBytes: maxBytes}, nil
}

// NewRedisKVFromClient wraps an existing client. Used by tests.
func NewRedisKVFromClient(client *redis.Client, maxBytes int64) *RedisKV {
	return &RedisKV{client: client, maxBytes: maxBytes}
}

// Get fetches the value for key.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %q: %w", key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return b, nil
}

// Set stores the value for key.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if r.maxBytes > 0 {
		used, err := r.usedBytes(ctx)
		if err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		old, err := r.client.StrLen(ctx, redisKeyPrefix+key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("set %q: %w", key, err)
		}
		if next := used - old + int64(len(value)); next > r.maxBytes {
			return fmt.Errorf("set %q (%d bytes, budget %d): %w", key, next, r.maxBytes, ErrQuotaExceeded)
		}
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Absent keys are ignored.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys (prefix stripped).
func (r *RedisKV) Keys(ctx context.Context) ([]string, error) {
	raw, err := r.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(redisKeyPrefix):])
	}
	return keys, nil
}

// Close closes the Redis connection.
func (r *RedisKV) Close() error {
	return r.client.Close()
}

func (r *RedisKV) usedBytes(ctx context.Context) (int64, error) {
	keys, err := r.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		l, err := r.client.StrLen(ctx, k).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, err
		}
		n += l
	}
	return n, nil
}
