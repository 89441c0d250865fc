package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend adapts *redis.Client to NetworkBackend.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to addr (host:port). The connection is not
// verified here; the first Get/Set failure is what triggers fallback.
func NewRedisBackend(addr string) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Get returns the raw bytes for key, or (nil, nil) on a cache miss.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with the given ttl.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
