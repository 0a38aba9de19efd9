package projection

import (
	"sync"
	"time"
)

// Expiring is a TTL cache keyed by K. Entries expire lazily on access and
// can be invalidated explicitly when the underlying mirror state changes.
// It replaces the scattered ad hoc map-plus-sweep caches with one shape.
type Expiring[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[K]expiringEntry[V]
	now     func() time.Time
}

type expiringEntry[V any] struct {
	value   V
	expires time.Time
}

// NewExpiring creates a cache whose entries live for ttl after each Set.
func NewExpiring[K comparable, V any](ttl time.Duration) *Expiring[K, V] {
	return &Expiring[K, V]{
		ttl:     ttl,
		entries: make(map[K]expiringEntry[V]),
		now:     time.Now,
	}
}

// Get returns the live value for key, if any.
func (c *Expiring[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for the cache's TTL.
func (c *Expiring[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = expiringEntry[V]{value: value, expires: c.now().Add(c.ttl)}
}

// Invalidate drops key immediately.
func (c *Expiring[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// TTL returns the configured entry lifetime.
func (c *Expiring[K, V]) TTL() time.Duration { return c.ttl }
