package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
)

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-memory CacheRepository with lazy expiry.
type Cache struct {
	mu    sync.RWMutex
	clock data.TimeProvider
	items map[string]cacheItem
}

// NewCache creates an empty Cache.
func NewCache(tp data.TimeProvider) *Cache {
	return &Cache{clock: resolveClock(tp), items: make(map[string]cacheItem)}
}

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(ttl)
}

// Get returns nil when key is missing or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !item.expiresAt.IsZero() && !c.clock.Now().Before(item.expiresAt) {
		return nil, nil
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.SetMany(ctx, []core.CacheEntry{{Key: key, Value: value, TTL: ttl}})
}

// SetMany stores every entry under one lock.
func (c *Cache) SetMany(_ context.Context, entries []core.CacheEntry) error {
	for _, e := range entries {
		if e.Key == "" {
			return errors.New("key cannot be empty")
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		v := make([]byte, len(e.Value))
		copy(v, e.Value)
		c.items[e.Key] = cacheItem{value: v, expiresAt: c.expiry(e.TTL)}
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok, nil
}

// Health always succeeds.
func (c *Cache) Health(context.Context) error { return nil }

var _ core.CacheRepository = (*Cache)(nil)
