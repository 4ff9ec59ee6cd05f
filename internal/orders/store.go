package orders

import (
	"context"
	"time"
)

// Store is the transactional persistence contract for orders and the
// inventory reservation ledger. Every mutating method runs as a single
// atomic transaction covering the order document and the inventory
// rows its lines reference; partial application must never be
// observable.
type Store interface {
	// Get returns the order without locking it. Read-only status
	// checks are the correctness backstop for retried requests.
	Get(ctx context.Context, orderID string) (Order, error)

	// Fulfill re-checks the order is paid under the transaction's
	// lock, decrements stock and reserved for every line (floored at
	// zero, missing products skipped), appends history, and
	// transitions to fulfilled. already=true reports an order that was
	// fulfilled before the transaction ran; nothing is re-decremented.
	Fulfill(ctx context.Context, orderID string, now time.Time) (order Order, already bool, err error)

	// RecordRefund adds amountCents to the cumulative refunded total
	// and appends a history entry carrying the gateway refund id.
	RecordRefund(ctx context.Context, orderID string, amountCents int64, refundID string, now time.Time) (Order, error)

	// ApplyStatusUpdate applies a seller-initiated mutation; a history
	// entry is always appended, even when the lifecycle is unchanged.
	ApplyStatusUpdate(ctx context.Context, orderID string, update StatusUpdate, now time.Time) (Order, error)

	// ExpireCandidates returns ids of orders still pending payment
	// that were created before the cutoff, up to limit.
	ExpireCandidates(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// Expire re-validates the pending condition inside the
	// transaction, releases each line's reservation, and transitions
	// to expired. expired=false reports an order that left
	// pending_payment between the scan and the transaction; that is a
	// silent no-op.
	Expire(ctx context.Context, orderID string, cutoff time.Time, now time.Time) (order Order, expired bool, err error)
}
