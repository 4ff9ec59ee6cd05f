package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitecart/internal/events"
	"sitecart/internal/fault"
	"sitecart/internal/idempotency"
	"sitecart/internal/inventory"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *InMemoryGateway, *events.LocalPublisher) {
	t.Helper()
	store := NewMemoryStore()
	gateway := NewInMemoryGateway()
	guard := idempotency.NewGuard(idempotency.NewMemoryStore())
	publisher := events.NewLocalPublisher(64)
	svc := NewService(store, gateway, guard, publisher, func(string, ...any) {})
	return svc, store, gateway, publisher
}

func seedPaidOrder(store *MemoryStore) Order {
	order := Order{
		ID:         "ord-1",
		SellerID:   "seller-1",
		BuyerID:    "buyer-1",
		Lifecycle:  StatusPaid,
		Status:     ExternalStatus(StatusPaid),
		PaymentRef: "pi_100",
		Items: []LineItem{
			{ProductID: "p1", VariantID: "v1", Qty: 2, PriceCents: 1500},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	store.Put(order)
	store.SetLevels("p1", "v1", inventory.Levels{Stock: 10, Reserved: 2})
	return order
}

func TestFulfillDecrementsInventoryOnce(t *testing.T) {
	svc, store, _, publisher := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	res, err := svc.Fulfill(ctx, "seller-1", "ord-1", "key-1")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if !res.OK || res.AlreadyFulfilled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Lifecycle != StatusFulfilled {
		t.Fatalf("lifecycle = %s, want fulfilled", res.Lifecycle)
	}

	levels, _ := store.Levels("p1", "v1")
	if levels.Stock != 8 || levels.Reserved != 0 {
		t.Fatalf("levels = %+v, want stock=8 reserved=0", levels)
	}

	// Re-entry with a fresh key succeeds without touching inventory.
	res2, err := svc.Fulfill(ctx, "seller-1", "ord-1", "key-2")
	if err != nil {
		t.Fatalf("second fulfill: %v", err)
	}
	if !res2.AlreadyFulfilled {
		t.Fatalf("expected alreadyFulfilled on re-entry")
	}
	levels, _ = store.Levels("p1", "v1")
	if levels.Stock != 8 || levels.Reserved != 0 {
		t.Fatalf("levels changed on re-entry: %+v", levels)
	}

	got := publisher.Events()
	if len(got) != 1 || got[0].Type != events.TypeOrderFulfilled {
		t.Fatalf("events = %+v, want a single order.fulfilled", got)
	}
}

func TestFulfillAfterRefundStaysFulfilled(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	if _, err := svc.Fulfill(ctx, "seller-1", "ord-1", "key-1"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if _, err := svc.Refund(ctx, "seller-1", "ord-1", 500, "refund-1"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	order, err := store.Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Lifecycle != StatusFulfilled {
		t.Fatalf("lifecycle after refund = %s, want fulfilled", order.Lifecycle)
	}
	if order.RefundedCents != 500 {
		t.Fatalf("refunded = %d, want 500", order.RefundedCents)
	}

	// A retried fulfill with a fresh key must still short-circuit.
	res, err := svc.Fulfill(ctx, "seller-1", "ord-1", "key-2")
	if err != nil {
		t.Fatalf("fulfill after refund: %v", err)
	}
	if !res.AlreadyFulfilled {
		t.Fatalf("expected alreadyFulfilled after refund, got %+v", res)
	}
	levels, _ := store.Levels("p1", "v1")
	if levels.Stock != 8 || levels.Reserved != 0 {
		t.Fatalf("levels changed by retried fulfill: %+v", levels)
	}
}

func TestFulfillReplaysOnSameKey(t *testing.T) {
	svc, store, _, publisher := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	first, err := svc.Fulfill(ctx, "seller-1", "ord-1", "key-1")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	replay, err := svc.Fulfill(ctx, "seller-1", "ord-1", "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Reused {
		t.Fatalf("expected replayed result to be marked reused")
	}
	if replay.OrderID != first.OrderID || replay.Lifecycle != first.Lifecycle {
		t.Fatalf("replay %+v differs from first %+v", replay, first)
	}
	if got := publisher.Events(); len(got) != 1 {
		t.Fatalf("replay published an event: %+v", got)
	}
}

func TestFulfillFloorsInventoryAtZero(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedPaidOrder(store)
	store.SetLevels("p1", "v1", inventory.Levels{Stock: 1, Reserved: 1})

	if _, err := svc.Fulfill(context.Background(), "seller-1", "ord-1", "key-1"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	levels, _ := store.Levels("p1", "v1")
	if levels.Stock != 0 || levels.Reserved != 0 {
		t.Fatalf("levels = %+v, want both floored to zero", levels)
	}
}

func TestFulfillRequiresPaidOrder(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	order := seedPaidOrder(store)
	order.Lifecycle = StatusPendingPayment
	order.Status = ExternalStatus(StatusPendingPayment)
	store.Put(order)

	_, err := svc.Fulfill(context.Background(), "seller-1", "ord-1", "key-1")
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestFulfillRejectsNonSeller(t *testing.T) {
	svc, store, _, publisher := newTestService(t)
	seedPaidOrder(store)

	_, err := svc.Fulfill(context.Background(), "buyer-1", "ord-1", "key-1")
	if !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	levels, _ := store.Levels("p1", "v1")
	if levels.Stock != 10 || levels.Reserved != 2 {
		t.Fatalf("levels mutated by rejected call: %+v", levels)
	}
	if got := publisher.Events(); len(got) != 0 {
		t.Fatalf("rejected call published events: %+v", got)
	}
}

func TestRefundCallsGatewayExactlyOnce(t *testing.T) {
	svc, store, gateway, publisher := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	first, err := svc.Refund(ctx, "seller-1", "ord-1", 500, "refund-1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if first.RefundedCents != 500 || first.RefundID == "" {
		t.Fatalf("unexpected result: %+v", first)
	}

	replay, err := svc.Refund(ctx, "seller-1", "ord-1", 500, "refund-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Reused || replay.RefundID != first.RefundID {
		t.Fatalf("replay %+v, want reused copy of %+v", replay, first)
	}

	if got := gateway.Refunds("pi_100"); len(got) != 1 || got[0] != 500 {
		t.Fatalf("gateway refunds = %v, want exactly one of 500", got)
	}

	order, err := store.Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Lifecycle != StatusRefundedPartial || order.RefundedCents != 500 {
		t.Fatalf("order after refund: lifecycle=%s refunded=%d", order.Lifecycle, order.RefundedCents)
	}
	if got := publisher.Events(); len(got) != 1 || got[0].RefundCents != 500 {
		t.Fatalf("events = %+v", got)
	}
}

func TestRefundAccumulates(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "seller-1", "ord-1", 300, "refund-1"); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	res, err := svc.Refund(ctx, "seller-1", "ord-1", 200, "refund-2")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if res.RefundedCents != 500 {
		t.Fatalf("cumulative refunded = %d, want 500", res.RefundedCents)
	}
}

func TestRefundValidation(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	order := seedPaidOrder(store)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, "seller-1", "ord-1", 0, "refund-1"); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("zero amount: err = %v, want validation", err)
	}
	if _, err := svc.Refund(ctx, "seller-1", "ord-1", -10, "refund-2"); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("negative amount: err = %v, want validation", err)
	}

	order.PaymentRef = ""
	store.Put(order)
	if _, err := svc.Refund(ctx, "seller-1", "ord-1", 100, "refund-3"); !fault.IsKind(err, fault.KindInvariant) {
		t.Fatalf("missing payment ref: err = %v, want invariant", err)
	}
	if got := gateway.Refunds("pi_100"); len(got) != 0 {
		t.Fatalf("gateway called despite rejections: %v", got)
	}
}

func TestRefundGatewayFailureIsRetryable(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	gateway.FailWith(errors.New("gateway down"))
	_, err := svc.Refund(ctx, "seller-1", "ord-1", 500, "refund-1")
	if !fault.IsKind(err, fault.KindUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}

	// The failed attempt must not burn the key: a retry with the same
	// key runs the operation again.
	gateway.FailWith(nil)
	res, err := svc.Refund(ctx, "seller-1", "ord-1", 500, "refund-1")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if res.Reused {
		t.Fatalf("retry replayed a failed attempt")
	}
	if got := gateway.Refunds("pi_100"); len(got) != 1 {
		t.Fatalf("gateway refunds = %v, want one successful call", got)
	}
}

func TestUpdateStatusAlwaysAppendsHistory(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedPaidOrder(store)
	ctx := context.Background()

	target := StatusPaid
	for i := 0; i < 2; i++ {
		res, err := svc.UpdateStatus(ctx, "seller-1", "ord-1", StatusUpdate{
			Lifecycle: &target,
			Note:      "manual confirm",
		}, "")
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if res.Lifecycle != StatusPaid {
			t.Fatalf("lifecycle = %s", res.Lifecycle)
		}
	}

	order, _ := store.Get(ctx, "ord-1")
	if len(order.History) != 2 {
		t.Fatalf("history length = %d, want 2 entries for duplicate updates", len(order.History))
	}
}

func TestGetRequiresSeller(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	seedPaidOrder(store)

	if _, err := svc.Get(context.Background(), "seller-1", "ord-1"); err != nil {
		t.Fatalf("seller get: %v", err)
	}
	if _, err := svc.Get(context.Background(), "someone-else", "ord-1"); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if _, err := svc.Get(context.Background(), "seller-1", "missing"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
