// Package ratelimit provides request throttling as a capability. Two
// implementations exist: a process-local fixed window for single-instance
// deployments, and a redis token bucket for anything sharing traffic
// across instances. Selection is configuration, not inheritance.
package ratelimit

import (
	"context"
	"time"
)

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}
