// Package gateway narrows the card, bank transfer and alternative-payment
// processors to the three calls the ledger needs.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// Status is the processor's verdict on one call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// ChargeRequest pulls money from a customer's payment method.
type ChargeRequest struct {
	Amount         money.Money
	PaymentToken   string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest returns money for a previous charge.
type RefundRequest struct {
	ChargeID       string
	Amount         money.Money
	IdempotencyKey string
}

// TransferRequest pushes money to a user's external account.
type TransferRequest struct {
	Destination    string
	Amount         money.Money
	IdempotencyKey string
	Metadata       map[string]string
}

// Result is the narrowed response of every gateway call. RemoteIDs carries
// the primary id first, then anything else worth keeping on the ledger
// record (balance transaction, receipt).
type Result struct {
	ID             string
	Status         Status
	Amount         money.Money
	RemoteIDs      []string
	FailureCode    string
	FailureMessage string
}

// Succeeded reports whether the processor accepted the call.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Reason is the human-readable failure text for notifications and records.
func (r Result) Reason() string {
	if r.Succeeded() {
		return ""
	}
	return HumanMessage(r.FailureCode)
}

// Gateway is implemented by every processor adapter. Declines come back as
// a failed Result with a nil error; errors are reserved for calls that did
// not reach a verdict.
type Gateway interface {
	Provider() enums.GatewayProvider
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	Transfer(ctx context.Context, req TransferRequest) (Result, error)
}

// FeeLookup is implemented by gateways that expose the settlement record
// behind a charge.
type FeeLookup interface {
	BalanceTransactionID(ctx context.Context, chargeID string) (string, error)
}

// Transient marks err as retryable.
func Transient(err error, op string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayTransient, err, fmt.Sprintf("%s temporarily unavailable", op))
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return pkgerrors.Is(err, pkgerrors.CodeGatewayTransient)
}

// Registry resolves the adapter for a provider.
type Registry struct {
	gateways map[enums.GatewayProvider]Gateway
}

// NewRegistry indexes the provided gateways by provider; nil entries are skipped.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[enums.GatewayProvider]Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		r.gateways[g.Provider()] = g
	}
	return r
}

// For returns the gateway for provider.
func (r *Registry) For(provider enums.GatewayProvider) (Gateway, error) {
	if r != nil {
		if g, ok := r.gateways[enums.GatewayProvider(strings.ToLower(string(provider)))]; ok {
			return g, nil
		}
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeDependency, "no gateway configured for %q", provider)
}
