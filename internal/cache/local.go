// Package cache implements the two-tier cache: an in-process LRU+TTL tier
// fronting a pooled remote KV store, with compression, namespacing, and
// prefix invalidation.
package cache

import (
	"sync"
	"time"
)

type localEntry struct {
	data       []byte
	expiresAt  time.Time
	size       int
	lastAccess time.Time
}

// LocalCache is an in-process LRU+TTL cache. It estimates each entry's size
// from its serialized byte length and evicts the least-recently-used entry
// when a write would exceed maxSize. Locking is coarse: one mutex guards the
// whole cache, matching the single hot path this tier sees in practice.
type LocalCache struct {
	mu          sync.Mutex
	entries     map[string]*localEntry
	currentSize int
	maxSize     int
}

// NewLocalCache returns an empty LocalCache bounded at maxSize bytes.
func NewLocalCache(maxSize int) *LocalCache {
	return &LocalCache{
		entries: make(map[string]*localEntry),
		maxSize: maxSize,
	}
}

// Get returns the cached value for key, or ok=false on a miss or expiry.
// Expired entries are evicted lazily, on access, rather than by a
// background sweep.
func (c *LocalCache) Get(key string) (data []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	entry.lastAccess = time.Now()
	return entry.data, true
}

// Set stores data under key with the given ttl, evicting LRU entries as
// needed to stay within maxSize.
func (c *LocalCache) Set(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()

	size := len(data)
	c.removeLocked(key)
	c.evictLRULocked(size)

	c.entries[key] = &localEntry{
		data:       data,
		expiresAt:  time.Now().Add(ttl),
		size:       size,
		lastAccess: time.Now(),
	}
	c.currentSize += size
}

// Delete removes key if present.
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// DeletePrefix removes every key with the given prefix, used for invalidation.
func (c *LocalCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.removeLocked(key)
		}
	}
}

// Size returns the current estimated occupied size in bytes.
func (c *LocalCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

func (c *LocalCache) removeLocked(key string) {
	entry, found := c.entries[key]
	if !found {
		return
	}
	delete(c.entries, key)
	c.currentSize -= entry.size
}

func (c *LocalCache) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(key)
		}
	}
}

func (c *LocalCache) evictLRULocked(needed int) {
	for c.currentSize+needed > c.maxSize && len(c.entries) > 0 {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.lastAccess.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.lastAccess
				first = false
			}
		}
		c.removeLocked(oldestKey)
	}
}
