package hub

import (
	"time"
)

// rateLimiter is a fixed-window message counter per source address. It is
// owned by a single room actor, so no locking: the actor processes frames
// one at a time. State is volatile: limits are soft abuse controls, not
// correctness-critical ledgers.
type rateLimiter struct {
	limit   int
	window  time.Duration
	entries map[string]*rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*rateEntry),
	}
}

// Allow counts one message from addr and reports whether it fits in the
// current window. An elapsed window starts fresh with count 1.
func (rl *rateLimiter) Allow(addr string, now time.Time) bool {
	e, ok := rl.entries[addr]
	if !ok || now.After(e.resetAt) || now.Equal(e.resetAt) {
		rl.entries[addr] = &rateEntry{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	e.count++
	return e.count <= rl.limit
}

// Forget drops the window for an address, typically on disconnect of its
// last connection.
func (rl *rateLimiter) Forget(addr string) {
	delete(rl.entries, addr)
}
