package wfe

import (
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

// windowLimiter is a fixed-size window rate limiter tracking timestamps of
// the last N POSTs, per spec §4.4. Grounded on ratelimit/ratelimit.go's
// window-limiter shape, adapted from the teacher's Redis-backed persistent
// limiter to a single in-memory ring buffer since Non-goals exclude
// production-grade/multi-node rate limiting.
type windowLimiter struct {
	clock  clock.Clock
	window time.Duration

	mu     sync.Mutex
	times  []time.Time
	cursor int
	filled int
}

// newWindowLimiter returns a limiter that allows at most size POSTs within
// window.
func newWindowLimiter(clk clock.Clock, size int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		clock:  clk,
		window: window,
		times:  make([]time.Time, size),
	}
}

// allow reports whether a POST arriving now is within the rate limit. When
// the window is full it returns false along with the time remaining until
// the oldest slot exits the window, from which wrap derives Retry-After.
func (l *windowLimiter) allow() (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	size := len(l.times)

	if l.filled < size {
		l.times[l.cursor] = now
		l.cursor = (l.cursor + 1) % size
		l.filled++
		return true, 0
	}

	oldest := l.times[l.cursor]
	elapsed := now.Sub(oldest)
	if elapsed >= l.window {
		l.times[l.cursor] = now
		l.cursor = (l.cursor + 1) % size
		return true, 0
	}

	return false, l.window - elapsed
}
