package cache

import (
	"sync"
	"time"

	"github.com/roach88/usersync/internal/clock"
)

// Current holds the single current value and when it was set. Reads and
// writes swap the whole value; no caller ever observes a partial write.
type Current[V any] struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.RWMutex
	value V
	setAt time.Time
	valid bool
}

// NewCurrent creates a holder seeded with initial. The seed counts as
// stale: it is a fallback, not a fetched value.
func NewCurrent[V any](c clock.Clock, ttl time.Duration, initial V) *Current[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Current[V]{clock: c, ttl: ttl, value: initial}
}

// Load returns the current value.
func (c *Current[V]) Load() V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Get returns the current value and whether it is inside its validity
// window.
func (c *Current[V]) Get() (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.freshLocked()
}

// Fresh reports whether the current value is inside its validity window.
func (c *Current[V]) Fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freshLocked()
}

// Store replaces the value and restarts the validity window. The previous
// value is returned.
func (c *Current[V]) Store(v V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.value
	c.value = v
	c.setAt = c.clock.Now()
	c.valid = true
	return prev
}

// Swap replaces the value without touching the validity window.
func (c *Current[V]) Swap(v V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.value
	c.value = v
	return prev
}

// Reset replaces the value and marks it stale.
func (c *Current[V]) Reset(v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.setAt = time.Time{}
	c.valid = false
}

// Invalidate marks the value stale without replacing it.
func (c *Current[V]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *Current[V]) freshLocked() bool {
	return c.valid && c.clock.Now().Sub(c.setAt) <= c.ttl
}
