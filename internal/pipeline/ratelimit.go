package pipeline

import (
	"sync"
	"time"
)

type rateWindow struct {
	windowStart time.Time
	count       int
}

// RateLimiter enforces a per-author message budget over a fixed window.
// Messages beyond the budget are rejected until the window rolls over.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[int64]*rateWindow
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing max messages per author per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		max:     max,
		window:  window,
		entries: make(map[int64]*rateWindow),
		now:     time.Now,
	}
}

// Allow reports whether the author may send another message in the current
// window, consuming one slot when it does.
func (r *RateLimiter) Allow(authorID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.entries[authorID]
	if !ok || now.Sub(entry.windowStart) >= r.window {
		r.entries[authorID] = &rateWindow{windowStart: now, count: 1}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	return true
}

// Sweep drops windows that have fully expired. Returns the number removed.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, entry := range r.entries {
		if now.Sub(entry.windowStart) >= r.window {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
