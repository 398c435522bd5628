package cache

import (
	"sync"
	"time"
)

// TTLCache caches values per key until they expire
type TTLCache[V any] struct {
	data  map[string]*cacheEntry[V]
	ttl   time.Duration
	now   func() time.Time
	mutex sync.RWMutex
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		data: make(map[string]*cacheEntry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the cached value and whether it was present and fresh
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	entry, exists := c.data[key]
	c.mutex.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}

	if c.now().After(entry.expiresAt) {
		c.Delete(key)
		return zero, false
	}

	return entry.value, true
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *TTLCache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, key)
}

func (c *TTLCache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*cacheEntry[V])
}

func (c *TTLCache[V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.data)
}
