package blob

import (
	"sync"
	"time"
)

// cacheEntry holds cached content with a timestamp for TTL expiration.
type cacheEntry struct {
	content   []byte
	fetchedAt time.Time
}

// Cache is a thread-safe in-memory content cache with TTL expiration.
// Expired entries are cleaned up lazily on Get; there is no background
// goroutine.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns cached content if present and not expired.
func (c *Cache) Get(location string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[location]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Expired; clean up lazily. Re-check under the write lock: a
		// concurrent Set may have replaced the entry with a fresh one
		// between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[location]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, location)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.content, true
}

// Set stores content with the current timestamp.
func (c *Cache) Set(location string, content []byte) {
	c.mu.Lock()
	c.entries[location] = &cacheEntry{
		content:   content,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}

// Drop removes a single entry, if present.
func (c *Cache) Drop(location string) {
	c.mu.Lock()
	delete(c.entries, location)
	c.mu.Unlock()
}
