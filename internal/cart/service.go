package cart

import (
	"context"
	"time"

	"sitecart/internal/fault"
)

// Store abstracts transactional persistence for cart documents. Update
// runs apply against the current document inside a transaction holding
// the document's row, so concurrent syncs serialize.
type Store interface {
	Get(ctx context.Context, userID, siteID string) (Cart, error)
	Update(ctx context.Context, userID, siteID string, apply func(Cart) Cart) (Cart, error)
	Touch(ctx context.Context, userID, siteID string, at time.Time, staleAfter time.Duration) (bool, error)
}

// SyncRequest is one client's batch of cart edits.
type SyncRequest struct {
	UserID      string     `json:"userId"`
	SiteID      string     `json:"siteId,omitempty"`
	ClientID    string     `json:"clientId"`
	Items       []Line     `json:"items"`
	RemovedKeys []Key      `json:"removedKeys"`
	Discounts   []Discount `json:"discounts,omitempty"`
	Currency    string     `json:"currency,omitempty"`
}

// Service applies cart syncs and liveness pings against a Store.
type Service struct {
	store             Store
	heartbeatThrottle time.Duration
	now               func() time.Time
}

// NewService constructs a cart Service. heartbeatThrottle suppresses
// writes for pings arriving within that window of the last activity.
func NewService(store Store, heartbeatThrottle time.Duration) *Service {
	return &Service{
		store:             store,
		heartbeatThrottle: heartbeatThrottle,
		now:               time.Now,
	}
}

// Sync validates and merges a client's edits into the stored cart,
// returning the merged snapshot.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (Cart, error) {
	if req.UserID == "" {
		return Cart{}, fault.Wrap(fault.KindValidation, ErrUserIDRequired, "cart sync rejected")
	}
	if req.ClientID == "" {
		return Cart{}, fault.Wrap(fault.KindValidation, ErrClientIDRequired, "cart sync rejected")
	}
	if err := ValidateLines(req.Items); err != nil {
		return Cart{}, fault.Wrap(fault.KindValidation, err, "cart sync rejected")
	}

	now := s.now().UTC()
	merged, err := s.store.Update(ctx, req.UserID, req.SiteID, func(current Cart) Cart {
		current.UserID = req.UserID
		current.SiteID = req.SiteID
		if req.Currency != "" {
			current.Currency = req.Currency
		}
		if req.Discounts != nil {
			current.Discounts = req.Discounts
		}
		next := Merge(current, req.Items, req.RemovedKeys, now)
		next.ClientID = req.ClientID
		return next
	})
	if err != nil {
		return Cart{}, fault.Wrap(fault.KindUpstream, err, "cart sync failed")
	}
	return merged, nil
}

// HeartbeatResult reports when the liveness ping was recorded.
type HeartbeatResult struct {
	WrittenAt time.Time `json:"writtenAt"`
	Written   bool      `json:"written"`
}

// Heartbeat records cart liveness. Pings within the throttle window of
// the last recorded activity are acknowledged without a write; this
// path is not correctness critical.
func (s *Service) Heartbeat(ctx context.Context, userID, siteID string) (HeartbeatResult, error) {
	if userID == "" {
		return HeartbeatResult{}, fault.Wrap(fault.KindValidation, ErrUserIDRequired, "heartbeat rejected")
	}
	now := s.now().UTC()
	written, err := s.store.Touch(ctx, userID, siteID, now, s.heartbeatThrottle)
	if err != nil {
		return HeartbeatResult{}, fault.Wrap(fault.KindUpstream, err, "heartbeat failed")
	}
	return HeartbeatResult{WrittenAt: now, Written: written}, nil
}

// Snapshot returns the stored cart without mutating it.
func (s *Service) Snapshot(ctx context.Context, userID, siteID string) (Cart, error) {
	if userID == "" {
		return Cart{}, fault.Wrap(fault.KindValidation, ErrUserIDRequired, "cart fetch rejected")
	}
	c, err := s.store.Get(ctx, userID, siteID)
	if err != nil {
		return Cart{}, fault.Wrap(fault.KindUpstream, err, "cart fetch failed")
	}
	return c, nil
}
