package cache

import (
	"sync"
	"time"
)

// TTLCache is an in-memory map whose entries expire after a per-entry TTL.
// Expired entries are evicted lazily on access and by Sweep.
type TTLCache[V any] struct {
	mu   sync.Mutex
	data map[string]item[V]
	now  func() time.Time
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTLCache creates an empty cache.
func NewTTLCache[V any]() *TTLCache[V] {
	return &TTLCache[V]{data: make(map[string]item[V]), now: time.Now}
}

// Get retrieves a cached item if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	it, ok := c.data[key]
	if !ok {
		return zero, false
	}
	if c.expired(it) {
		delete(c.data, key)
		return zero, false
	}
	return it.value, true
}

// Set stores a value. A non-positive ttl never expires.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	c.data[key] = item[V]{value: value, expiresAt: expires}
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *TTLCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, it := range c.data {
		if c.expired(it) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

func (c *TTLCache[V]) expired(it item[V]) bool {
	return !it.expiresAt.IsZero() && c.now().After(it.expiresAt)
}
