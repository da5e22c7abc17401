package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the optional distributed tier behind the in-memory Cache.
// Heavyweight per-series computations stay process-local; small
// serializable artifacts that benefit from surviving restarts or being
// shared across replicas (cycle snapshots, signal dedupe marks) go through
// Redis with the same soft-TTL semantics as the local tier.
type RedisTier struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTier connects a tier to the Redis instance at addr. prefix
// namespaces every key; ttl is the default expiry applied when SetJSON is
// called with ttl <= 0.
func NewRedisTier(addr, prefix string, ttl time.Duration) *RedisTier {
	return &RedisTier{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (t *RedisTier) key(k string) string { return t.prefix + ":" + k }

// Ping verifies connectivity at startup.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

// SetJSON marshals v and stores it under key with the given expiry.
func (t *RedisTier) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = t.ttl
	}
	return t.rdb.Set(ctx, t.key(key), data, ttl).Err()
}

// GetJSON unmarshals the value at key into out, reporting whether the key
// existed.
func (t *RedisTier) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := t.rdb.Get(ctx, t.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}

// Invalidate removes every key matching pattern (Redis glob syntax, applied
// under this tier's prefix) and returns the count removed.
func (t *RedisTier) Invalidate(ctx context.Context, pattern string) (int, error) {
	iter := t.rdb.Scan(ctx, 0, t.key(pattern), 0).Iterator()
	removed := 0
	for iter.Next(ctx) {
		if err := t.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}

// Close releases the underlying connection pool.
func (t *RedisTier) Close() error { return t.rdb.Close() }
