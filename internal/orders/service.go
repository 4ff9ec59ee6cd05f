package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"sitecart/internal/events"
	"sitecart/internal/fault"
	"sitecart/internal/idempotency"

	"github.com/google/uuid"
)

// PaymentGateway refunds a previously captured charge. The gateway is
// not assumed to deduplicate repeated refunds; the idempotency guard
// is the sole duplicate-refund defense.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentRef string, amountCents int64) (string, error)
}

// Service orchestrates order lifecycle transitions through the
// transactional Store, guarded by the idempotency layer, publishing
// lifecycle events after commit.
type Service struct {
	store     Store
	gateway   PaymentGateway
	guard     *idempotency.Guard
	publisher events.Publisher
	logf      func(format string, args ...any)
	now       func() time.Time
	newID     func() string
}

// NewService constructs an order Service.
func NewService(store Store, gateway PaymentGateway, guard *idempotency.Guard, publisher events.Publisher, logf func(format string, args ...any)) *Service {
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		store:     store,
		gateway:   gateway,
		guard:     guard,
		publisher: publisher,
		logf:      logf,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// FulfillResult is the response shape for order.fulfill.
type FulfillResult struct {
	OK               bool            `json:"ok"`
	OrderID          string          `json:"orderId"`
	Lifecycle        LifecycleStatus `json:"lifecycleStatus"`
	AlreadyFulfilled bool            `json:"alreadyFulfilled,omitempty"`
	Reused           bool            `json:"-"`
}

// RefundResult is the response shape for order.refund.
type RefundResult struct {
	OK            bool   `json:"ok"`
	OrderID       string `json:"orderId"`
	RefundID      string `json:"refundId"`
	RefundedCents int64  `json:"refundedAmount"`
	Reused        bool   `json:"-"`
}

// StatusResult is the response shape for order.updateStatus.
type StatusResult struct {
	OK        bool            `json:"ok"`
	OrderID   string          `json:"orderId"`
	Lifecycle LifecycleStatus `json:"lifecycleStatus"`
	Reused    bool            `json:"-"`
}

// Fulfill decrements inventory for every line and transitions the
// order to fulfilled. Re-entry on an already fulfilled order succeeds
// without re-decrementing.
func (s *Service) Fulfill(ctx context.Context, callerID, orderID, idemKey string) (FulfillResult, error) {
	if err := s.authorize(ctx, callerID, orderID); err != nil {
		return FulfillResult{}, err
	}

	res, err := s.guard.Do(ctx, idemKey, func(ctx context.Context) ([]byte, error) {
		now := s.now().UTC()
		order, already, err := s.store.Fulfill(ctx, orderID, now)
		if err != nil {
			return nil, mapStoreError(err)
		}
		if !already {
			s.publish(ctx, events.Event{
				ID:       s.newID(),
				Type:     events.TypeOrderFulfilled,
				OrderID:  order.ID,
				SellerID: order.SellerID,
				Status:   string(order.Lifecycle),
				At:       now,
			})
		}
		return json.Marshal(FulfillResult{
			OK:               true,
			OrderID:          order.ID,
			Lifecycle:        order.Lifecycle,
			AlreadyFulfilled: already,
		})
	})
	if err != nil {
		return FulfillResult{}, err
	}
	return decodeResult[FulfillResult](res)
}

// Refund calls the payment gateway then records the refunded amount.
// Idempotent re-entry relies entirely on the caller's key; an omitted
// key executes unguarded by policy.
func (s *Service) Refund(ctx context.Context, callerID, orderID string, amountCents int64, idemKey string) (RefundResult, error) {
	if amountCents <= 0 {
		return RefundResult{}, fault.Wrap(fault.KindValidation, ErrBadAmount, "refund rejected")
	}
	order, err := s.authorized(ctx, callerID, orderID)
	if err != nil {
		return RefundResult{}, err
	}
	if order.PaymentRef == "" {
		return RefundResult{}, fault.Wrap(fault.KindInvariant, ErrNoPaymentRef, "refund rejected")
	}

	res, err := s.guard.Do(ctx, idemKey, func(ctx context.Context) ([]byte, error) {
		refundID, err := s.gateway.Refund(ctx, order.PaymentRef, amountCents)
		if err != nil {
			return nil, fault.Wrap(fault.KindUpstream, err, "payment gateway refund failed")
		}
		now := s.now().UTC()
		updated, err := s.store.RecordRefund(ctx, orderID, amountCents, refundID, now)
		if err != nil {
			return nil, mapStoreError(err)
		}
		s.publish(ctx, events.Event{
			ID:          s.newID(),
			Type:        events.TypeOrderRefunded,
			OrderID:     updated.ID,
			SellerID:    updated.SellerID,
			Status:      string(updated.Lifecycle),
			RefundCents: amountCents,
			At:          now,
		})
		return json.Marshal(RefundResult{
			OK:            true,
			OrderID:       updated.ID,
			RefundID:      refundID,
			RefundedCents: updated.RefundedCents,
		})
	})
	if err != nil {
		return RefundResult{}, err
	}
	return decodeResult[RefundResult](res)
}

// UpdateStatus applies a seller-initiated mutation. Repeated calls
// with the same target status append duplicate history entries; the
// history is an append log, not a set.
func (s *Service) UpdateStatus(ctx context.Context, callerID, orderID string, update StatusUpdate, idemKey string) (StatusResult, error) {
	if err := s.authorize(ctx, callerID, orderID); err != nil {
		return StatusResult{}, err
	}

	res, err := s.guard.Do(ctx, idemKey, func(ctx context.Context) ([]byte, error) {
		now := s.now().UTC()
		updated, err := s.store.ApplyStatusUpdate(ctx, orderID, update, now)
		if err != nil {
			return nil, mapStoreError(err)
		}
		s.publish(ctx, events.Event{
			ID:       s.newID(),
			Type:     events.TypeOrderStatusChanged,
			OrderID:  updated.ID,
			SellerID: updated.SellerID,
			Status:   string(updated.Lifecycle),
			At:       now,
		})
		return json.Marshal(StatusResult{
			OK:        true,
			OrderID:   updated.ID,
			Lifecycle: updated.Lifecycle,
		})
	})
	if err != nil {
		return StatusResult{}, err
	}
	return decodeResult[StatusResult](res)
}

// Get returns the order for its seller.
func (s *Service) Get(ctx context.Context, callerID, orderID string) (Order, error) {
	return s.authorized(ctx, callerID, orderID)
}

// authorize verifies the caller owns the order as its seller; a
// mismatch is terminal, never retried.
func (s *Service) authorize(ctx context.Context, callerID, orderID string) error {
	_, err := s.authorized(ctx, callerID, orderID)
	return err
}

func (s *Service) authorized(ctx context.Context, callerID, orderID string) (Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, mapStoreError(err)
	}
	if callerID == "" || callerID != order.SellerID {
		return Order{}, fault.Wrap(fault.KindForbidden, ErrNotSeller, "order mutation rejected")
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logf("publish %s for order %s: %v", event.Type, event.OrderID, err)
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fault.Wrap(fault.KindNotFound, err, "order not found")
	case errors.Is(err, ErrNotPaid):
		return fault.Wrap(fault.KindConflict, err, "order is not in a fulfillable state")
	default:
		return fault.Wrap(fault.KindUpstream, err, "order store failure")
	}
}

func decodeResult[T any](res idempotency.Result) (T, error) {
	var out T
	if res.Pending {
		// Unreachable: a pending guard result carries an error.
		return out, fault.New(fault.KindConflict, "operation still in progress")
	}
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return out, fault.Wrap(fault.KindUpstream, err, "decode idempotent replay payload")
	}
	setReused(&out, res.Reused)
	return out, nil
}

func setReused(v any, reused bool) {
	switch r := v.(type) {
	case *FulfillResult:
		r.Reused = reused
	case *RefundResult:
		r.Reused = reused
	case *StatusResult:
		r.Reused = reused
	}
}
