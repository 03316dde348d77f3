// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Values are opaque
// bytes; callers serialize on Set and deserialize on Get, which also gives
// read-copy-on-hit semantics for free.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Clear drops every entry. Mutating store operations call this after
	// the underlying write commits; whole-cache invalidation is preferred
	// over per-key precision to rule out partial-invalidation staleness.
	Clear(ctx context.Context) error
}
