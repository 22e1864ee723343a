package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local sliding window counter. Under a multi-instance
// deployment each process counts on its own, so the effective limit is
// maxRequests per instance. Use RedisLimiter when that matters.
type MemoryLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryLimiter creates a limiter allowing maxRequests per window per identifier
func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{
		maxRequests: policy.MaxRequests,
		window:      policy.Window,
		now:         time.Now,
		windows:     make(map[string][]time.Time),
	}
}

// WithClock replaces the limiter clock
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// IsRateLimited prunes timestamps that left the window, then either rejects
// the call or records it.
func (l *MemoryLimiter) IsRateLimited(ctx context.Context, identifier string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.windows[identifier], now, l.window)
	if len(recent) >= l.maxRequests {
		l.windows[identifier] = recent
		return true, nil
	}
	l.windows[identifier] = append(recent, now)
	return false, nil
}

func (l *MemoryLimiter) Window() time.Duration {
	return l.window
}

// Sweep drops identifiers whose timestamps have all left the window.
func (l *MemoryLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, stamps := range l.windows {
		if recent := prune(stamps, now, l.window); len(recent) == 0 {
			delete(l.windows, id)
		} else {
			l.windows[id] = recent
		}
	}
}

// prune keeps timestamps strictly younger than window. The slice is ordered.
func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= window {
		i++
	}
	return stamps[i:]
}
