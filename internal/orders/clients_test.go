package orders

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryGateway_RefundAssignsSequentialIDs(t *testing.T) {
	g := NewInMemoryGateway()

	first, err := g.Refund(context.Background(), "pi_1", 500)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	second, err := g.Refund(context.Background(), "pi_1", 300)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct refund ids, got %s twice", first)
	}

	got := g.Refunds("pi_1")
	if len(got) != 2 || got[0] != 500 || got[1] != 300 {
		t.Fatalf("refunds = %v, want [500 300]", got)
	}
}

func TestInMemoryGateway_RefundWithoutRefFails(t *testing.T) {
	g := NewInMemoryGateway()

	if _, err := g.Refund(context.Background(), "", 100); err == nil {
		t.Fatalf("expected refund without payment reference to fail")
	}
}

func TestInMemoryGateway_FailWith(t *testing.T) {
	g := NewInMemoryGateway()
	boom := errors.New("boom")

	g.FailWith(boom)
	if _, err := g.Refund(context.Background(), "pi_1", 100); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected failure", err)
	}

	g.FailWith(nil)
	if _, err := g.Refund(context.Background(), "pi_1", 100); err != nil {
		t.Fatalf("refund after clearing failure: %v", err)
	}
	if got := g.Refunds("pi_1"); len(got) != 1 {
		t.Fatalf("failed attempt was recorded: %v", got)
	}
}

func TestNoopGateway_RefundAlwaysSucceeds(t *testing.T) {
	var g PaymentGateway = NoopGateway{}

	id, err := g.Refund(context.Background(), "", 250)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if id != "re_noop" {
		t.Fatalf("refund id = %q", id)
	}
}
