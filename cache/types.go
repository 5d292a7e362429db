// Package cache provides the key-value store contract used by the response cache,
// the invalidation engine and the session store, together with the fail-open
// read-through Reader that HTTP handlers use.
package cache

import (
	"context"
	"time"
)

// Store defines the operations tunecache needs from the shared key-value store.
// All implementations must be thread-safe and context-aware. Atomicity is only
// guaranteed per command; Scan followed by Delete is not transactional.
//
// Example usage:
//
//	err = store.Set(ctx, "/api/artists/a1", body, 10*time.Minute)
//	data, err := store.Get(ctx, "/api/artists/a1")
//	keys, err := store.Scan(ctx, "/api/artists*")
//	deleted, err := store.Delete(ctx, keys...)
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the specified TTL. A zero TTL stores without expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys and reports how many existed.
	// Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Scan enumerates every key matching a Redis-style glob pattern.
	// An empty result is not an error.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// HSet sets one field of a hash.
	HSet(ctx context.Context, key, field string, value []byte) error

	// HGet reads one field of a hash. Returns ErrNotFound when the hash or field is absent.
	HGet(ctx context.Context, key, field string) ([]byte, error)

	// HGetAll returns every field of a hash; a missing hash yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// HDel removes fields from a hash. Missing fields are not an error.
	HDel(ctx context.Context, key string, fields ...string) error

	// HRefresh overwrites an existing hash field and resets the key's TTL in
	// one atomic step. Returns false without writing when the field is absent.
	HRefresh(ctx context.Context, key, field string, value []byte, ttl time.Duration) (bool, error)

	// Expire (re)sets the TTL of a key. Returns false when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Health checks the connection with PING.
	// Should be fast (<100ms) and safe to call frequently.
	Health(ctx context.Context) error

	// Stats returns implementation-specific statistics for observability.
	Stats() (map[string]any, error)

	// Close releases the connection. After Close the store must not be used.
	Close() error
}

// FlagSource reports whether response caching is currently enabled.
// Implementations are consulted on every request so the flag can change live.
type FlagSource interface {
	CacheEnabled() bool
}

// StaticFlag is a FlagSource with a fixed value.
type StaticFlag bool

// CacheEnabled implements FlagSource.
func (f StaticFlag) CacheEnabled() bool { return bool(f) }
