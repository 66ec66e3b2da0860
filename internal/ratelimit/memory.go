package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a fixed-window counter held in process memory. It is
// correct only for single-instance deployments; multi-instance setups
// must use the redis variant so the window is shared.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*memoryWindow
}

type memoryWindow struct {
	count   int
	startAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*memoryWindow),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.buckets[key]
	if !ok || now.Sub(w.startAt) >= l.window {
		w = &memoryWindow{startAt: now}
		l.buckets[key] = w
	}
	if w.count >= l.limit {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.startAt.Add(l.window).Sub(now),
		}, nil
	}
	w.count++
	return &Result{
		Allowed:   true,
		Remaining: l.limit - w.count,
	}, nil
}
