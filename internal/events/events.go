package events

import (
	"context"
	"errors"
	"time"
)

// Event types emitted by the order lifecycle.
const (
	TypeOrderFulfilled     = "order.fulfilled"
	TypeOrderRefunded      = "order.refunded"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrderExpired       = "order.expired"
)

// Event is one order lifecycle notification.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	SellerID    string    `json:"sellerId"`
	Status      string    `json:"status"`
	RefundCents int64     `json:"refundCents,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers order lifecycle events to a sink. Publishing is
// advisory: a failed publish never rolls back the order transaction
// that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// FanoutPublisher forwards each event to every sink, collecting errors
// so all sinks get a chance to deliver.
type FanoutPublisher struct {
	sinks []Publisher
}

// NewFanoutPublisher constructs a publisher over the given sinks.
func NewFanoutPublisher(sinks ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks}
}

func (p *FanoutPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
