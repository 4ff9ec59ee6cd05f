package orders

import (
	"errors"
	"time"
)

// LifecycleStatus is the authoritative state of an order in its
// payment/fulfillment state machine.
type LifecycleStatus string

const (
	StatusPendingPayment  LifecycleStatus = "pending_payment"
	StatusPaid            LifecycleStatus = "paid"
	StatusFulfilled       LifecycleStatus = "fulfilled"
	StatusExpired         LifecycleStatus = "expired"
	StatusRefundedPartial LifecycleStatus = "refunded-partial"
)

// MaxHistory bounds the status history kept on an order document.
// Older entries are dropped; full audit history must be exported
// before truncation.
const MaxHistory = 200

// LineItem is an immutable snapshot of one ordered line.
type LineItem struct {
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId,omitempty"`
	Qty        int64  `json:"qty"`
	PriceCents int64  `json:"priceCents"`
}

// HistoryEntry is one append-only status transition record.
type HistoryEntry struct {
	From        LifecycleStatus `json:"from"`
	To          LifecycleStatus `json:"to"`
	At          time.Time       `json:"at"`
	Note        string          `json:"note,omitempty"`
	RefundCents int64           `json:"refundAmount,omitempty"`
}

// Adjustment is a manual ledger adjustment recorded by the seller.
type Adjustment struct {
	AmountCents int64     `json:"amountCents"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Order is owned by a buyer and scoped under a seller. Status mirrors
// the lifecycle in the simplified external vocabulary kept for
// backward compatibility.
type Order struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"sellerId"`
	BuyerID       string          `json:"buyerId"`
	Items         []LineItem      `json:"items"`
	Lifecycle     LifecycleStatus `json:"lifecycleStatus"`
	Status        string          `json:"status"`
	History       []HistoryEntry  `json:"statusHistory"`
	RefundedCents int64           `json:"refundedAmount"`
	Adjustments   []Adjustment    `json:"adjustments,omitempty"`
	PaymentRef    string          `json:"paymentIntent,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

var (
	ErrNotFound     = errors.New("order not found")
	ErrNotSeller    = errors.New("caller is not the order's seller")
	ErrNotPaid      = errors.New("order is not paid")
	ErrNoPaymentRef = errors.New("order has no recorded payment reference")
	ErrBadAmount    = errors.New("refund amount must be positive")
)

// ExternalStatus maps a lifecycle state to the simplified status kept
// on the order for older clients.
func ExternalStatus(lifecycle LifecycleStatus) string {
	switch lifecycle {
	case StatusPendingPayment:
		return "pending"
	case StatusPaid:
		return "paid"
	case StatusFulfilled:
		return "fulfilled"
	case StatusExpired:
		return "canceled"
	case StatusRefundedPartial:
		return "refunded"
	}
	return string(lifecycle)
}

// AppendHistory appends an entry and enforces the bounded retention,
// dropping the oldest entries first.
func AppendHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	history = append(history, entry)
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	return history
}

// StatusUpdate is a seller-initiated order mutation: an optional
// lifecycle transition, an optional refund amount to record, and
// optional manual adjustments. A history entry is always appended.
type StatusUpdate struct {
	Lifecycle   *LifecycleStatus `json:"lifecycleStatus,omitempty"`
	Note        string           `json:"note,omitempty"`
	RefundCents int64            `json:"refundAmount,omitempty"`
	Adjustments []Adjustment     `json:"adjustments,omitempty"`
}
