// Package cache provides a best-effort TTL key/value cache.
//
// Two implementations exist: a Redis-backed cache for deployments and
// an in-process map for demo mode or when Redis is unreachable. The
// cache is strictly an optimization: every error degrades to a miss and
// callers fall through to the authoritative store.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is a TTL key/value store. Get returns ok=false on miss, expiry,
// or backend failure — callers cannot distinguish the three and must
// treat all of them as "recompute".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Cache key prefixes. Invalidation after a commit uses the same
// prefixes, so they live here rather than at call sites.
const (
	KeyPrefixUserProfile        = "user:"
	KeyPrefixReceiverReputation = "receiver_reputation:"
)

// GetJSON fetches key and unmarshals it into v. A malformed cached
// value counts as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) bool {
	b, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

// SetJSON marshals v and stores it under key. Marshal failures are
// dropped silently; the cache is best-effort.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, b, ttl)
}
