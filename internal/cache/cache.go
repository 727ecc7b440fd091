// Package cache provides the shared cache abstraction used for permission
// sets, pending logins and public-id acceleration. Callers always receive
// an implementation: the in-memory variant stands in when no distributed
// cache is configured, so no code path special-cases an absent cache.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd string key/value store. Reads and writes are
// best-effort: staleness is bounded by the entry TTL.
type Cache interface {
	// Get returns the value and whether the key was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores the value with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes all keys matching a glob pattern
	// (e.g. "permissions:user:42:*").
	DeletePattern(ctx context.Context, pattern string) error
}
