// Package cache holds short-lived query results in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "grantbook:"
	DefaultTTL    = 30 * time.Second
)

// Redis is a byte cache with a fixed TTL per entry.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Redis)

func WithPrefix(p string) Option {
	return func(r *Redis) { r.prefix = p }
}

// NewRedis returns a cache whose entries live for ttl. A ttl of zero or
// less would write keys that never expire, so it falls back to DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...Option) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Redis{client: client, prefix: DefaultPrefix, ttl: ttl}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns (nil, false, nil) for a missing or expired key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
