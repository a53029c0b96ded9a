// Package ratelimit enforces a per-user request budget ahead of dispatch
// to the agent driver, protecting the knowledge base from runaway chat
// loops and accidental floods.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per user. The per-minute rate is looked
// up lazily per call so a change via the settings overlay takes effect on
// the user's next message without requiring a restart.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[int64]*rate.Limiter
	burst    int
}

// New returns a Limiter with the given burst size (maximum requests
// allowed in a single instant, e.g. a pasted batch of messages).
func New(burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[int64]*rate.Limiter),
		burst:   burst,
	}
}

// Allow reports whether userID may proceed right now, given perMinute as
// their currently configured rate. The bucket is recreated whenever
// perMinute changes so settings overlay edits apply immediately.
func (l *Limiter) Allow(userID int64, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	limit := rate.Limit(float64(perMinute) / 60.0)

	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.buckets[userID]
	if !ok || rl.Limit() != limit {
		rl = rate.NewLimiter(limit, l.burst)
		l.buckets[userID] = rl
	}
	return rl.Allow()
}

// Reset drops the bucket for userID, so its next Allow starts from a full
// burst.
func (l *Limiter) Reset(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, userID)
}
