package cart

import (
	"fmt"
	"testing"
	"time"
)

func line(product, variant string, qty int, updatedAt int64) Line {
	return Line{ProductID: product, VariantID: variant, Qty: qty, PriceCents: 1000, UpdatedAt: updatedAt}
}

func TestMerge_IdempotentResend(t *testing.T) {
	now := time.UnixMilli(5000)
	base := Cart{
		UserID:  "u1",
		Items:   []Line{line("A", "v1", 2, 100)},
		Version: 3,
	}

	merged := Merge(base, []Line{line("A", "v1", 2, 100)}, nil, now)

	if len(merged.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(merged.Items))
	}
	if merged.Items[0] != base.Items[0] {
		t.Fatalf("line changed on idempotent resend: %+v", merged.Items[0])
	}
	if merged.Version != 4 {
		t.Fatalf("expected version 4, got %d", merged.Version)
	}
}

func TestMerge_LastWriterWins(t *testing.T) {
	older := line("A", "v1", 1, 100)
	newer := line("A", "v1", 5, 200)

	for name, order := range map[string][2]Line{
		"older-then-newer": {older, newer},
		"newer-then-older": {newer, older},
	} {
		c := Merge(Cart{}, []Line{order[0]}, nil, time.UnixMilli(1000))
		c = Merge(c, []Line{order[1]}, nil, time.UnixMilli(2000))
		if len(c.Items) != 1 {
			t.Fatalf("%s: expected 1 line, got %d", name, len(c.Items))
		}
		if c.Items[0].Qty != 5 {
			t.Fatalf("%s: expected qty 5 to win, got %d", name, c.Items[0].Qty)
		}
	}
}

func TestMerge_TombstoneWinsTies(t *testing.T) {
	// Removal recorded at t=100 must suppress a line updated at t=100.
	c := Merge(Cart{}, nil, []Key{{ProductID: "A", VariantID: "v1"}}, time.UnixMilli(100))
	c = Merge(c, []Line{line("A", "v1", 2, 100)}, nil, time.UnixMilli(150))

	if len(c.Items) != 0 {
		t.Fatalf("expected tombstone to suppress tied line, got %+v", c.Items)
	}
}

func TestMerge_NewerLineBeatsTombstone(t *testing.T) {
	c := Merge(Cart{}, nil, []Key{{ProductID: "A", VariantID: "v1"}}, time.UnixMilli(100))
	c = Merge(c, []Line{line("A", "v1", 2, 101)}, nil, time.UnixMilli(150))

	if len(c.Items) != 1 {
		t.Fatalf("expected re-added line to survive, got %d lines", len(c.Items))
	}
}

func TestMerge_TombstoneNeverMovesBackward(t *testing.T) {
	c := Merge(Cart{}, nil, []Key{{ProductID: "A", VariantID: "v1"}}, time.UnixMilli(500))
	// A late-arriving removal with an earlier wall clock must not rewind it.
	c = Merge(c, nil, []Key{{ProductID: "A", VariantID: "v1"}}, time.UnixMilli(200))

	if len(c.Tombstones) != 1 {
		t.Fatalf("expected 1 tombstone, got %d", len(c.Tombstones))
	}
	if c.Tombstones[0].RemovedAt != 500 {
		t.Fatalf("tombstone moved backward: %d", c.Tombstones[0].RemovedAt)
	}
}

func TestMerge_SweepRemovesExistingLine(t *testing.T) {
	base := Cart{Items: []Line{line("A", "v1", 2, 100)}}
	c := Merge(base, nil, []Key{{ProductID: "A", VariantID: "v1"}}, time.UnixMilli(100))

	if len(c.Items) != 0 {
		t.Fatalf("expected removal to delete stored line, got %+v", c.Items)
	}
}

func TestMerge_TombstoneCap(t *testing.T) {
	c := Cart{}
	for i := 0; i < MaxTombstones+25; i++ {
		key := Key{ProductID: fmt.Sprintf("p%03d", i), VariantID: "v1"}
		c = Merge(c, nil, []Key{key}, time.UnixMilli(int64(i+1)))
	}

	if len(c.Tombstones) != MaxTombstones {
		t.Fatalf("expected %d tombstones, got %d", MaxTombstones, len(c.Tombstones))
	}
	// Oldest entries are the ones dropped.
	if c.Tombstones[0].Key.ProductID != "p025" {
		t.Fatalf("expected oldest surviving tombstone p025, got %s", c.Tombstones[0].Key.ProductID)
	}
}

func TestMerge_RecoverableTracksContent(t *testing.T) {
	c := Merge(Cart{}, []Line{line("A", "v1", 1, 100)}, nil, time.UnixMilli(100))
	if !c.Recoverable {
		t.Fatalf("expected recoverable with items present")
	}
	c = Merge(c, nil, []Key{{ProductID: "A", VariantID: "v1"}}, time.UnixMilli(200))
	if c.Recoverable {
		t.Fatalf("expected recoverable cleared when cart empties")
	}
}
