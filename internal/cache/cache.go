package cache

import (
	"sync"
	"time"
)

type CacheItem[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Cache is a TTL map. Expired entries are dropped lazily on Get and by Cleanup.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]CacheItem[V]
	now   func() time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]CacheItem[V]),
		now:   time.Now,
	}
}

// WithClock swaps the time source; used by tests.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.now = now
	return c
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = CacheItem[V]{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		return zero, false
	}

	if c.now().After(item.ExpiresAt) {
		delete(c.items, key)
		return zero, false
	}

	return item.Value, true
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cleanup removes expired entries.
func (c *Cache[V]) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}
