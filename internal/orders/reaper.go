package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sitecart/internal/events"
)

// DefaultReservationTTL is how long a pending_payment order may hold
// its reservations before the reaper releases them.
const DefaultReservationTTL = 30 * time.Minute

// Purger removes idempotency records whose TTL has lapsed. The reaper
// piggybacks purges on its sweep cadence.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Reaper releases inventory held by pending_payment orders that have
// outlived the reservation TTL, and expires the orders themselves.
type Reaper struct {
	store     Store
	publisher events.Publisher
	purger    Purger
	ttl       time.Duration
	batch     int
	interval  time.Duration
	logf      func(format string, args ...any)
	now       func() time.Time
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperTTL overrides the reservation TTL.
func WithReaperTTL(ttl time.Duration) ReaperOption {
	return func(r *Reaper) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithReaperBatch caps how many orders a single sweep may expire.
func WithReaperBatch(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithReaperInterval sets the pause between sweeps in Run.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReaperClock overrides the clock, for tests.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReaperPurger attaches an idempotency purger to the sweep loop.
func WithReaperPurger(p Purger) ReaperOption {
	return func(r *Reaper) {
		r.purger = p
	}
}

// WithReaperLogf overrides the log sink.
func WithReaperLogf(logf func(format string, args ...any)) ReaperOption {
	return func(r *Reaper) {
		if logf != nil {
			r.logf = logf
		}
	}
}

// NewReaper constructs a reaper over the given store.
func NewReaper(store Store, publisher events.Publisher, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:     store,
		publisher: publisher,
		ttl:       DefaultReservationTTL,
		batch:     100,
		interval:  time.Minute,
		logf:      func(string, ...any) {},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SweepResult reports what a single sweep did.
type SweepResult struct {
	Scanned int      `json:"scanned"`
	Expired int      `json:"expired"`
	Orders  []string `json:"orders,omitempty"`
}

// Sweep expires one batch of overdue pending_payment orders. Each
// order is re-checked under the store's lock before being touched, so
// a payment that lands mid-sweep keeps its reservations.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	return r.SweepWith(ctx, 0, 0)
}

// SweepWith runs one sweep with per-call overrides. Zero or negative
// values fall back to the configured TTL and batch size.
func (r *Reaper) SweepWith(ctx context.Context, ttl time.Duration, limit int) (SweepResult, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	if limit <= 0 {
		limit = r.batch
	}

	now := r.now()
	cutoff := now.Add(-ttl)

	ids, err := r.store.ExpireCandidates(ctx, cutoff, limit)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Scanned: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		order, expired, err := r.store.Expire(ctx, id, cutoff, now)
		if err != nil {
			r.logf("reaper: expire %s: %v", id, err)
			continue
		}
		if !expired {
			continue
		}
		result.Expired++
		result.Orders = append(result.Orders, id)
		r.publish(ctx, order, now)
	}

	if r.purger != nil {
		if _, err := r.purger.PurgeExpired(ctx, now); err != nil {
			r.logf("reaper: purge idempotency keys: %v", err)
		}
	}
	return result, nil
}

// Run sweeps on the configured interval until the context ends.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logf("reaper: sweep: %v", err)
				continue
			}
			if result.Expired > 0 {
				r.logf("reaper: expired %d of %d candidates", result.Expired, result.Scanned)
			}
		}
	}
}

func (r *Reaper) publish(ctx context.Context, order Order, now time.Time) {
	if r.publisher == nil {
		return
	}
	evt := events.Event{
		ID:       uuid.NewString(),
		Type:     events.TypeOrderExpired,
		OrderID:  order.ID,
		SellerID: order.SellerID,
		Status:   string(order.Lifecycle),
		At:       now,
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logf("reaper: publish expired %s: %v", order.ID, err)
	}
}
