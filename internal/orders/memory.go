package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitecart/internal/inventory"
)

// MemoryStore is an in-memory Store for tests and the no-database
// fallback mode. A single mutex stands in for the per-document
// transaction the Postgres store runs.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
	levels map[levelKey]inventory.Levels
}

type levelKey struct {
	productID string
	variantID string
}

// NewMemoryStore constructs an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		levels: make(map[levelKey]inventory.Levels),
	}
}

// Put stores an order document (seeding for tests and fallback mode).
func (m *MemoryStore) Put(order Order) {
	m.mu.Lock()
	m.orders[order.ID] = order
	m.mu.Unlock()
}

// SetLevels seeds inventory counters for a product or variant.
func (m *MemoryStore) SetLevels(productID, variantID string, levels inventory.Levels) {
	m.mu.Lock()
	m.levels[levelKey{productID, variantID}] = levels
	m.mu.Unlock()
}

// Levels returns the counters for a product or variant.
func (m *MemoryStore) Levels(productID, variantID string) (inventory.Levels, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels, ok := m.levels[levelKey{productID, variantID}]
	return levels, ok
}

func (m *MemoryStore) Get(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

func (m *MemoryStore) Fulfill(ctx context.Context, orderID string, now time.Time) (Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, false, ErrNotFound
	}
	if order.Lifecycle == StatusFulfilled {
		return order, true, nil
	}
	if order.Lifecycle != StatusPaid {
		return Order{}, false, ErrNotPaid
	}

	for _, line := range order.Items {
		key, levels, ok := m.resolveLevels(line)
		if !ok {
			continue // product already deleted; nothing to decrement
		}
		m.levels[key] = levels.Fulfill(line.Qty)
	}

	order.History = AppendHistory(order.History, HistoryEntry{
		From: order.Lifecycle, To: StatusFulfilled, At: now,
	})
	order.Lifecycle = StatusFulfilled
	order.Status = ExternalStatus(StatusFulfilled)
	order.UpdatedAt = now
	m.orders[orderID] = order
	return order, false, nil
}

func (m *MemoryStore) RecordRefund(ctx context.Context, orderID string, amountCents int64, refundID string, now time.Time) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	// Refunds only reclassify paid orders; a fulfilled order stays
	// fulfilled so re-entrant fulfills still short-circuit.
	target := order.Lifecycle
	if order.Lifecycle == StatusPaid {
		target = StatusRefundedPartial
	}
	order.RefundedCents += amountCents
	order.History = AppendHistory(order.History, HistoryEntry{
		From: order.Lifecycle, To: target, At: now,
		Note: "refund " + refundID, RefundCents: amountCents,
	})
	order.Lifecycle = target
	order.Status = ExternalStatus(target)
	order.UpdatedAt = now
	m.orders[orderID] = order
	return order, nil
}

func (m *MemoryStore) ApplyStatusUpdate(ctx context.Context, orderID string, update StatusUpdate, now time.Time) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}

	to := order.Lifecycle
	if update.Lifecycle != nil {
		to = *update.Lifecycle
	}
	order.History = AppendHistory(order.History, HistoryEntry{
		From: order.Lifecycle, To: to, At: now,
		Note: update.Note, RefundCents: update.RefundCents,
	})
	order.Lifecycle = to
	order.Status = ExternalStatus(to)
	if update.RefundCents > 0 {
		order.RefundedCents += update.RefundCents
	}
	order.Adjustments = append(order.Adjustments, update.Adjustments...)
	order.UpdatedAt = now
	m.orders[orderID] = order
	return order, nil
}

func (m *MemoryStore) ExpireCandidates(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, order := range m.orders {
		if order.Lifecycle == StatusPendingPayment && order.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryStore) Expire(ctx context.Context, orderID string, cutoff time.Time, now time.Time) (Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, false, ErrNotFound
	}
	if order.Lifecycle != StatusPendingPayment || !order.CreatedAt.Before(cutoff) {
		// Paid (or otherwise transitioned) between the scan and the
		// transaction: leave it alone.
		return order, false, nil
	}

	for _, line := range order.Items {
		key, levels, ok := m.resolveLevels(line)
		if !ok {
			continue
		}
		m.levels[key] = levels.Release(line.Qty)
	}

	order.History = AppendHistory(order.History, HistoryEntry{
		From: order.Lifecycle, To: StatusExpired, At: now, Note: "reservation expired",
	})
	order.Lifecycle = StatusExpired
	order.Status = ExternalStatus(StatusExpired)
	order.UpdatedAt = now
	m.orders[orderID] = order
	return order, true, nil
}

// resolveLevels finds the counters for a line, falling back from the
// variant to the base product. Callers hold m.mu.
func (m *MemoryStore) resolveLevels(line LineItem) (levelKey, inventory.Levels, bool) {
	key := levelKey{line.ProductID, line.VariantID}
	if levels, ok := m.levels[key]; ok {
		return key, levels, true
	}
	key = levelKey{line.ProductID, ""}
	levels, ok := m.levels[key]
	return key, levels, ok
}
