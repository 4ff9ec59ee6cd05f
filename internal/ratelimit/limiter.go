package ratelimit

import (
	"context"
	"errors"
	"log"
	"time"

	"sitecart/internal/fault"
)

// ErrLimited signals that the fixed window for a subject is exhausted.
var ErrLimited = errors.New("rate limit exceeded")

// CounterStore advances the fixed-window counter for a key, resetting
// it when the window has elapsed. It returns the post-increment count
// and the time remaining until the window resets.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Decision reports the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	Degraded   bool
}

// Limiter is a fixed-window rate limiter keyed by (subject, action).
// Fixed windows intentionally trade boundary bursts (up to 2x the limit
// across a reset) for a counter that is one increment per check.
type Limiter struct {
	store  CounterStore
	strict bool
	logf   func(format string, args ...any)
}

// NewLimiter constructs a Limiter. In strict mode a counter-store
// outage rejects the request; otherwise the check degrades to allow.
func NewLimiter(store CounterStore, strict bool, logf func(format string, args ...any)) *Limiter {
	if logf == nil {
		logf = log.Printf
	}
	return &Limiter{store: store, strict: strict, logf: logf}
}

// Check consumes one unit of the window for (subject, action). When the
// window is exhausted it returns a RATE_LIMITED fault carrying the
// retry-after hint in the decision.
func (l *Limiter) Check(ctx context.Context, subject, action string, limit int64, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: limit}, nil
	}

	count, resetIn, err := l.store.Incr(ctx, counterKey(subject, action), window)
	if err != nil {
		if l.strict {
			return Decision{}, fault.Wrap(fault.KindUpstream, err, "rate limit store unavailable")
		}
		l.logf("rate limit store unavailable, allowing request: %v", err)
		return Decision{Allowed: true, Remaining: limit, Degraded: true}, nil
	}

	if count > limit {
		dec := Decision{Allowed: false, RetryAfter: resetIn}
		return dec, fault.Wrap(fault.KindRateLimited, ErrLimited, "too many requests")
	}
	return Decision{Allowed: true, Remaining: limit - count}, nil
}

func counterKey(subject, action string) string {
	return subject + ":" + action
}
