package cart

import (
	"errors"
	"time"
)

// MaxTombstones bounds the removal log kept on a cart document.
const MaxTombstones = 200

// Key identifies a cart line by product and variant.
type Key struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
}

// Line is one cart entry. UpdatedAt is a client-supplied logical
// timestamp (unix millis) used for last-writer-wins merging.
type Line struct {
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"priceCents"`
	UpdatedAt  int64  `json:"lineUpdatedAt"`
}

// Key returns the line's identity.
func (l Line) Key() Key {
	return Key{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Tombstone records a removed line so a stale re-add cannot resurrect it.
type Tombstone struct {
	Key       Key   `json:"key"`
	RemovedAt int64 `json:"removedAt"`
}

// Discount is an applied discount snapshot carried on the cart.
type Discount struct {
	Code        string `json:"code"`
	AmountCents int64  `json:"amountCents"`
}

// Cart is the authoritative per-user cart document, optionally scoped
// to a site. Tombstones are ordered oldest first and capped.
type Cart struct {
	UserID         string      `json:"userId"`
	SiteID         string      `json:"siteId,omitempty"`
	Items          []Line      `json:"items"`
	Tombstones     []Tombstone `json:"removedLines"`
	Version        int64       `json:"version"`
	Discounts      []Discount  `json:"discounts,omitempty"`
	Currency       string      `json:"currency"`
	ClientID       string      `json:"clientId,omitempty"`
	Recoverable    bool        `json:"recoverable"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
}

var (
	ErrUserIDRequired   = errors.New("user id is required")
	ErrClientIDRequired = errors.New("client id is required")
	ErrInvalidLine      = errors.New("line requires a product id and positive qty")
)

// ValidateLines rejects malformed incoming lines before any storage access.
func ValidateLines(lines []Line) error {
	for _, line := range lines {
		if line.ProductID == "" || line.Qty <= 0 || line.PriceCents < 0 {
			return ErrInvalidLine
		}
	}
	return nil
}
