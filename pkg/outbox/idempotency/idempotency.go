package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/ledgerd/pkg/redis"
)

// State is where an event stands for one consumer.
type State int

const (
	// Claimed means the caller now owns the event and must Complete or
	// Release it.
	Claimed State = iota
	// InFlight means another delivery holds an unexpired claim.
	InFlight
	// Done means the event was applied already.
	Done
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultLease bounds how long a claim from a crashed handler keeps
// redeliveries out.
const DefaultLease = time.Minute

const (
	claimedValue = "claimed"
	doneValue    = "done"
)

// Manager tracks event IDs per consumer in Redis under
// `ledger:idempotency:evt:processed:<consumer>:<event_id>`. A claim is a
// short lease; completing it keeps the key for the full TTL.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
}

// NewManager builds a manager that remembers completed events for ttl. A ttl
// of zero keeps them without expiry.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &Manager{store: store, ttl: ttl, lease: lease}, nil
}

// Claim takes the event for the caller unless another delivery holds it or
// it was completed.
func (m *Manager) Claim(ctx context.Context, consumer, eventID string) (State, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	set, err := m.store.SetNX(ctx, key, claimedValue, m.lease)
	if err != nil {
		return InFlight, err
	}
	if set {
		return Claimed, nil
	}
	value, err := m.store.Get(ctx, key)
	if err != nil {
		return InFlight, err
	}
	if value == doneValue {
		return Done, nil
	}
	// An expired lease reads empty here; the next delivery will claim it.
	return InFlight, nil
}

// Complete records the event as applied for the full TTL.
func (m *Manager) Complete(ctx context.Context, consumer, eventID string) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, doneValue, m.ttl)
}

// Release drops a claim so a failed delivery can be retried at once.
func (m *Manager) Release(ctx context.Context, consumer, eventID string) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, eventID string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, eventID), nil
}
