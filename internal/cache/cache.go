// Package cache is an in-memory TTL cache. The component registry keeps
// loaded components in it.
package cache

import (
	"sync"
	"time"
)

// Entry is one cached value. A zero ExpiresAt never expires.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
	StaleAt   time.Time // after this the value is still served but reported stale
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func (e *Entry[V]) stale(now time.Time) bool {
	return !e.StaleAt.IsZero() && now.After(e.StaleAt) && !e.expired(now)
}

// Memory is an in-memory cache with TTL and stale-while-revalidate support.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
	now     func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// New creates a cache and starts its background cleanup.
func New[V any]() *Memory[V] {
	c := &Memory[V]{
		entries:         make(map[string]*Entry[V]),
		now:             time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the value for key, whether it was found, and whether it is
// stale but still usable.
func (c *Memory[V]) Get(key string) (V, bool, bool) {
	var zero V
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false, false
	}

	now := c.now()
	if entry.expired(now) {
		c.Invalidate(key)
		return zero, false, false
	}
	return entry.Value, true, entry.stale(now)
}

// Set stores a value. A ttl of 0 keeps it until invalidated.
func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	c.SetWithStale(key, value, ttl, ttl)
}

// SetWithStale stores a value that turns stale after staleAfter and
// expires after expireAfter. Zero durations disable either limit.
func (c *Memory[V]) SetWithStale(key string, value V, staleAfter, expireAfter time.Duration) {
	now := c.now()
	entry := &Entry[V]{Value: value}
	if staleAfter > 0 {
		entry.StaleAt = now.Add(staleAfter)
	}
	if expireAfter > 0 {
		entry.ExpiresAt = now.Add(expireAfter)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate removes an entry.
func (c *Memory[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Memory[V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Memory[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}
}

// Stop stops the background cleanup. Safe to call more than once.
func (c *Memory[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries, expired ones included until cleanup.
func (c *Memory[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
