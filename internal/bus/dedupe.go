package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL, up to a fixed number of entries.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	now     func() time.Time
}

// NewDedupeCache creates a cache holding at most maxEntries keys for ttl each.
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     maxEntries,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen records key and reports whether it was already present and unexpired.
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.entries[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	if len(c.entries) >= c.max {
		for k, at := range c.entries {
			if now.Sub(at) >= c.ttl {
				delete(c.entries, k)
			}
		}
		// Still full: drop arbitrary entries.
		for k := range c.entries {
			if len(c.entries) < c.max {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[key] = now
	return false
}

// Len returns the number of remembered keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
