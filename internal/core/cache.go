package core

import (
	"context"
	"time"
)

// CacheEntry is one key written by CacheRepository.SetMany.
type CacheEntry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// CacheRepository defines the key/value operations used for precomputed snapshots.
type CacheRepository interface {
	// Get retrieves a value by key. Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetMany writes every entry atomically: readers observe all of them or none.
	SetMany(ctx context.Context, entries []CacheEntry) error

	// Delete removes a key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}
