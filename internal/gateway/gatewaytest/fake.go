// Package gatewaytest provides a scriptable gateway for service tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Fake answers every call with a success unless the matching func field is set.
type Fake struct {
	ProviderName enums.GatewayProvider
	ChargeFn     func(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error)
	RefundFn     func(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error)
	TransferFn   func(ctx context.Context, req gateway.TransferRequest) (gateway.Result, error)

	mu        sync.Mutex
	Charges   []gateway.ChargeRequest
	Refunds   []gateway.RefundRequest
	Transfers []gateway.TransferRequest
}

func (f *Fake) Provider() enums.GatewayProvider {
	if f.ProviderName == "" {
		return enums.GatewayStripe
	}
	return f.ProviderName
}

func (f *Fake) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	f.mu.Lock()
	f.Charges = append(f.Charges, req)
	n := len(f.Charges)
	f.mu.Unlock()
	if f.ChargeFn != nil {
		return f.ChargeFn(ctx, req)
	}
	id := fmt.Sprintf("pi_%d", n)
	return gateway.Result{ID: id, Status: gateway.StatusSucceeded, Amount: req.Amount, RemoteIDs: []string{id}}, nil
}

func (f *Fake) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	f.mu.Lock()
	f.Refunds = append(f.Refunds, req)
	n := len(f.Refunds)
	f.mu.Unlock()
	if f.RefundFn != nil {
		return f.RefundFn(ctx, req)
	}
	id := fmt.Sprintf("re_%d", n)
	return gateway.Result{ID: id, Status: gateway.StatusSucceeded, Amount: req.Amount, RemoteIDs: []string{id}}, nil
}

func (f *Fake) Transfer(ctx context.Context, req gateway.TransferRequest) (gateway.Result, error) {
	f.mu.Lock()
	f.Transfers = append(f.Transfers, req)
	n := len(f.Transfers)
	f.mu.Unlock()
	if f.TransferFn != nil {
		return f.TransferFn(ctx, req)
	}
	id := fmt.Sprintf("tr_%d", n)
	return gateway.Result{ID: id, Status: gateway.StatusSucceeded, Amount: req.Amount, RemoteIDs: []string{id}}, nil
}

// Declined builds a failed result carrying code.
func Declined(id, code string) gateway.Result {
	return gateway.Result{
		ID:             id,
		Status:         gateway.StatusFailed,
		RemoteIDs:      []string{id},
		FailureCode:    code,
		FailureMessage: gateway.HumanMessage(code),
	}
}
