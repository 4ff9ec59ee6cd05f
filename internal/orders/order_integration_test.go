package orders_test

import (
	"context"
	"testing"
	"time"

	"sitecart/internal/events"
	"sitecart/internal/idempotency"
	"sitecart/internal/inventory"
	"sitecart/internal/orders"
)

// Exercises the in-memory stack end to end: fulfill decrements
// inventory, refund goes through the gateway once, and the reaper
// releases what an abandoned checkout held.
func TestOrderLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	publisher := events.NewLocalPublisher(32)
	logf := func(string, ...any) {}

	mem := orders.NewMemoryStore()
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.WithLogf(logf))
	service := orders.NewService(mem, orders.NewInMemoryGateway(), guard, publisher, logf)

	now := time.Now().UTC()
	mem.Put(orders.Order{
		ID:         "ord-1",
		SellerID:   "seller-1",
		Lifecycle:  orders.StatusPaid,
		Status:     orders.ExternalStatus(orders.StatusPaid),
		PaymentRef: "pi_1",
		Items:      []orders.LineItem{{ProductID: "p1", Qty: 1}},
		CreatedAt:  now,
	})
	mem.Put(orders.Order{
		ID:        "ord-stale",
		SellerID:  "seller-1",
		Lifecycle: orders.StatusPendingPayment,
		Status:    orders.ExternalStatus(orders.StatusPendingPayment),
		Items:     []orders.LineItem{{ProductID: "p1", Qty: 2}},
		CreatedAt: now.Add(-2 * time.Hour),
	})
	mem.SetLevels("p1", "", inventory.Levels{Stock: 5, Reserved: 3})

	if _, err := service.Fulfill(ctx, "seller-1", "ord-1", "fulfill-1"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	levels, _ := mem.Levels("p1", "")
	if levels.Stock != 4 || levels.Reserved != 2 {
		t.Fatalf("levels after fulfill = %+v, want stock=4 reserved=2", levels)
	}

	res, err := service.Refund(ctx, "seller-1", "ord-1", 250, "refund-1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.RefundedCents != 250 {
		t.Fatalf("refunded = %d, want 250", res.RefundedCents)
	}

	reaper := orders.NewReaper(mem, publisher, orders.WithReaperTTL(30*time.Minute))
	sweep, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sweep.Expired != 1 {
		t.Fatalf("sweep = %+v, want the stale checkout expired", sweep)
	}
	levels, _ = mem.Levels("p1", "")
	if levels.Stock != 4 || levels.Reserved != 0 {
		t.Fatalf("levels after sweep = %+v, want stock untouched and reserved released", levels)
	}

	types := map[string]int{}
	for _, evt := range publisher.Events() {
		types[evt.Type]++
	}
	if types[events.TypeOrderFulfilled] != 1 || types[events.TypeOrderRefunded] != 1 || types[events.TypeOrderExpired] != 1 {
		t.Fatalf("event counts = %v", types)
	}
}
