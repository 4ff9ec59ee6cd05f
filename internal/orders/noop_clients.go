package orders

import "context"

// NoopGateway is a PaymentGateway that always succeeds without
// calling anything. It backs local runs with no payment provider
// configured.
type NoopGateway struct{}

func (NoopGateway) Refund(ctx context.Context, paymentRef string, amountCents int64) (string, error) {
	return "re_noop", nil
}
