package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked keys so rotating senders
	// cannot exhaust memory.
	maxTrackedKeys = 4096

	DefaultInboundWindow  = 60 * time.Second
	DefaultInboundMaxHits = 30
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// InboundLimiter counts messages per key in fixed windows. Used to drop
// floods from a single sender before they reach the gating engine.
// Safe for concurrent use.
type InboundLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	window  time.Duration
	maxHits int
	now     func() time.Time
}

// NewInboundLimiter allows maxHits messages per key in each window.
func NewInboundLimiter(window time.Duration, maxHits int) *InboundLimiter {
	if window <= 0 {
		window = DefaultInboundWindow
	}
	if maxHits <= 0 {
		maxHits = DefaultInboundMaxHits
	}
	return &InboundLimiter{
		entries: make(map[string]*rateLimitEntry),
		window:  window,
		maxHits: maxHits,
		now:     time.Now,
	}
}

// Allow returns true if the key is within limits.
func (r *InboundLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap.
		for k := range r.entries {
			if len(r.entries) < maxTrackedKeys {
				break
			}
			delete(r.entries, k)
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
