package orders

import (
	"testing"
	"time"
)

func TestExternalStatusMapping(t *testing.T) {
	cases := []struct {
		lifecycle LifecycleStatus
		want      string
	}{
		{StatusPendingPayment, "pending"},
		{StatusPaid, "paid"},
		{StatusFulfilled, "fulfilled"},
		{StatusExpired, "canceled"},
		{StatusRefundedPartial, "refunded"},
		{LifecycleStatus("weird"), "weird"},
	}
	for _, tc := range cases {
		if got := ExternalStatus(tc.lifecycle); got != tc.want {
			t.Errorf("ExternalStatus(%q) = %q, want %q", tc.lifecycle, got, tc.want)
		}
	}
}

func TestAppendHistoryCapsAtLimit(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var history []HistoryEntry
	for i := 0; i < MaxHistory+25; i++ {
		history = AppendHistory(history, HistoryEntry{
			From: StatusPaid,
			To:   StatusPaid,
			At:   base.Add(time.Duration(i) * time.Second),
		})
	}

	if len(history) != MaxHistory {
		t.Fatalf("history length = %d, want %d", len(history), MaxHistory)
	}
	wantOldest := base.Add(25 * time.Second)
	if !history[0].At.Equal(wantOldest) {
		t.Fatalf("oldest retained entry at %v, want %v", history[0].At, wantOldest)
	}
	wantNewest := base.Add(time.Duration(MaxHistory+24) * time.Second)
	if !history[len(history)-1].At.Equal(wantNewest) {
		t.Fatalf("newest entry at %v, want %v", history[len(history)-1].At, wantNewest)
	}
}
