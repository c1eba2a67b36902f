// Package cache provides an in-memory TTL cache for article lookups.
package cache

import (
	"sync"
	"time"
)

// Entry represents a cached value
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired
func (e *Entry[V]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache defines the interface for lookup caching
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache
	Get(key K) (V, bool)

	// Set stores a value in the cache with the given TTL
	Set(key K, value V, ttl time.Duration)

	// Invalidate removes an entry from the cache
	Invalidate(key K)

	// InvalidateAll removes all entries from the cache
	InvalidateAll()
}

// MemoryCache is an in-memory cache implementation with TTL support
type MemoryCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*Entry[V]

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryCache creates a new in-memory cache and starts its cleanup goroutine.
// Call Stop to release it.
func NewMemoryCache[K comparable, V any]() *MemoryCache[K, V] {
	c := &MemoryCache[K, V]{
		entries:         make(map[K]*Entry[V]),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a value from the cache
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}

	if entry.IsExpired() {
		c.Invalidate(key)
		return zero, false
	}

	return entry.Value, true
}

// Set stores a value in the cache with the given TTL
func (c *MemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	entry := &Entry[V]{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate removes an entry from the cache
func (c *MemoryCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache
func (c *MemoryCache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]*Entry[V])
	c.mu.Unlock()
}

func (c *MemoryCache[K, V]) cleanupLoop() {
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

// cleanup removes all expired entries
func (c *MemoryCache[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// Stop stops the background cleanup goroutine
// Safe to call multiple times
func (c *MemoryCache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache
func (c *MemoryCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
