package idempotency

import (
	"context"
	"errors"
	"log"
	"time"

	"sitecart/internal/fault"
)

// DefaultTTL is how long a completed record can replay its response
// before a new attempt may overwrite it.
const DefaultTTL = 6 * time.Hour

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one stored idempotency entry keyed by the caller's token.
type Record struct {
	Key       string
	Status    Status
	Response  []byte
	ErrorMsg  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists idempotency records. Begin atomically claims the key:
// it inserts an in_progress record and reports created=true, or returns
// the existing record when one is still live. Stores must treat failed
// and expired records as claimable.
type Store interface {
	Begin(ctx context.Context, key string, now time.Time, ttl time.Duration) (Record, bool, error)
	Complete(ctx context.Context, key string, response []byte) error
	Fail(ctx context.Context, key string, message string) error
}

// Result reports how an operation ran under the guard.
type Result struct {
	Payload  []byte
	Reused   bool
	Pending  bool
	Degraded bool
}

// Operation produces the response payload for a guarded mutation.
type Operation func(ctx context.Context) ([]byte, error)

// Guard wraps mutating operations with an exactly-once-effect contract.
type Guard struct {
	store  Store
	ttl    time.Duration
	strict bool
	now    func() time.Time
	logf   func(format string, args ...any)
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL overrides the record TTL.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.ttl = ttl }
}

// WithStrict makes record-store outages fail the request instead of
// degrading to unguarded execution.
func WithStrict(strict bool) Option {
	return func(g *Guard) { g.strict = strict }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogf injects the logger used for non-fatal store failures.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(g *Guard) { g.logf = logf }
}

// NewGuard constructs a Guard over the given record store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		logf:  log.Printf,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ErrPending signals that another attempt with the same key is still
// running; the caller should poll or retry later.
var ErrPending = errors.New("operation still in progress")

// Do runs op under the exactly-once contract for key. An empty key runs
// op directly with no persistence; that is a deliberate policy for
// low-risk callers, not an error.
func (g *Guard) Do(ctx context.Context, key string, op Operation) (Result, error) {
	if key == "" {
		payload, err := op(ctx)
		return Result{Payload: payload}, err
	}

	now := g.now().UTC()
	rec, created, err := g.store.Begin(ctx, key, now, g.ttl)
	if err != nil {
		if g.strict {
			return Result{}, fault.Wrap(fault.KindUpstream, err, "idempotency store unavailable")
		}
		g.logf("idempotency store unavailable, running unguarded: %v", err)
		payload, opErr := op(ctx)
		return Result{Payload: payload, Degraded: true}, opErr
	}

	if !created {
		switch rec.Status {
		case StatusCompleted:
			return Result{Payload: rec.Response, Reused: true}, nil
		case StatusInProgress:
			return Result{Reused: true, Pending: true}, fault.Wrap(fault.KindConflict, ErrPending, "idempotent operation pending")
		}
	}

	payload, opErr := op(ctx)
	if opErr != nil {
		if failErr := g.store.Fail(ctx, key, opErr.Error()); failErr != nil {
			g.logf("record idempotency failure for %s: %v", key, failErr)
		}
		return Result{}, opErr
	}
	if completeErr := g.store.Complete(ctx, key, payload); completeErr != nil {
		g.logf("record idempotency completion for %s: %v", key, completeErr)
	}
	return Result{Payload: payload}, nil
}
