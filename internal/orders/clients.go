package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// NewInMemoryGateway constructs an in-memory payment gateway.
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		refunds: make(map[string][]int64),
	}
}

// InMemoryGateway tracks refunds in memory. It stands in for the real
// payment processor in local and fallback modes.
type InMemoryGateway struct {
	mu      sync.Mutex
	seq     int
	refunds map[string][]int64
	failErr error
}

func (g *InMemoryGateway) Refund(ctx context.Context, paymentRef string, amountCents int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return "", g.failErr
	}
	if paymentRef == "" {
		return "", errors.New("refund without payment reference")
	}
	g.seq++
	g.refunds[paymentRef] = append(g.refunds[paymentRef], amountCents)
	return fmt.Sprintf("re_%06d", g.seq), nil
}

// Refunds returns the refund amounts issued against a payment
// reference (for testing/inspection).
func (g *InMemoryGateway) Refunds(paymentRef string) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, len(g.refunds[paymentRef]))
	copy(out, g.refunds[paymentRef])
	return out
}

// FailWith makes every subsequent call return err. Pass nil to clear.
func (g *InMemoryGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failErr = err
}
