package stripewebhook

import (
	"context"
	"errors"

	"github.com/angelmondragon/ledgerd/pkg/outbox/idempotency"
)

// Consumer names the Redis idempotency scope for Stripe deliveries.
const Consumer = "stripe-webhooks"

// IdempotencyGuard drops redeliveries before they reach the database. The
// webhook_events row stays authoritative; the guard only saves the round trip.
type IdempotencyGuard struct {
	manager  *idempotency.Manager
	consumer string
}

func NewIdempotencyGuard(manager *idempotency.Manager, consumer string) (*IdempotencyGuard, error) {
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if consumer == "" {
		consumer = Consumer
	}
	return &IdempotencyGuard{manager: manager, consumer: consumer}, nil
}

// Claim reports where eventID stands and takes it when nobody holds it.
func (g *IdempotencyGuard) Claim(ctx context.Context, eventID string) (idempotency.State, error) {
	if g == nil {
		return idempotency.Claimed, nil
	}
	return g.manager.Claim(ctx, g.consumer, eventID)
}

// Complete marks eventID applied.
func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	if g == nil {
		return nil
	}
	return g.manager.Complete(ctx, g.consumer, eventID)
}

// Release forgets eventID so a failed delivery can be retried.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if g == nil {
		return nil
	}
	return g.manager.Release(ctx, g.consumer, eventID)
}
