// Package cache is an in-memory TTL cache for rendered tool responses. The
// tool adapters read through it and the sync engine's invalidator prunes it
// when entity states change, so cached markdown never outlives the state it
// describes.
package cache

import (
	"strings"
	"sync"
	"time"
)

// CollectionKey caches the aggregate entity listing.
const CollectionKey = "entities:all"

// EntityKey returns the cache key for one entity's rendered state.
func EntityKey(id string) string { return "entity:" + id }

// DefaultTTL bounds staleness for entries nothing invalidates explicitly.
const DefaultTTL = 30 * time.Second

type record struct {
	value     string
	expiresAt time.Time
}

// Cache is a thread-safe string cache with per-cache TTL and key-or-prefix
// invalidation.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]record
}

// New creates a Cache whose entries live for ttl. A non-positive ttl falls
// back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]record),
	}
}

// Get returns the cached value for key if it exists and has not expired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.records[key]
	if !ok || c.now().After(r.expiresAt) {
		return "", false
	}

	return r.value, true
}

// Set stores value under key with the cache's TTL.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[key] = record{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops the entry for keyOrPattern and returns how many entries
// were removed. A pattern ending in '*' removes every key with the leading
// prefix.
func (c *Cache) Invalidate(keyOrPattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix, ok := strings.CutSuffix(keyOrPattern, "*"); ok {
		removed := 0
		for k := range c.records {
			if strings.HasPrefix(k, prefix) {
				delete(c.records, k)
				removed++
			}
		}
		return removed
	}

	if _, ok := c.records[keyOrPattern]; !ok {
		return 0
	}

	delete(c.records, keyOrPattern)

	return 1
}

// Len returns the number of entries, expired included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.records)
}
