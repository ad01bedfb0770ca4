// Package squaregw adapts Square payments and refunds to the ledger's
// gateway interface.
package squaregw

import (
	"context"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/money"
	"github.com/angelmondragon/ledgerd/pkg/square"
)

// API is the subset of pkg/square the adapter calls.
type API interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error)
}

// Gateway implements gateway.Gateway for Square.
type Gateway struct {
	api API
}

// New builds the adapter.
func New(api API) (*Gateway, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square api required")
	}
	return &Gateway{api: api}, nil
}

func (g *Gateway) Provider() enums.GatewayProvider {
	return enums.GatewaySquare
}

// Charge takes an autocompleted payment. The intent id travels as the
// payment's reference id.
func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	units, err := req.Amount.MinorUnits()
	if err != nil {
		return gateway.Result{}, err
	}
	payment, err := g.api.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    units,
		Currency:       req.Amount.Currency.String(),
		SourceID:       req.PaymentToken,
		CustomerID:     req.Metadata["customer_id"],
		IdempotencyKey: req.IdempotencyKey,
		ReferenceID:    req.IdempotencyKey,
		Note:           req.Metadata["invoice_id"],
		Autocomplete:   true,
	})
	if err != nil {
		return declineOrError(err, req.Amount)
	}

	id := deref(payment.GetID())
	result := gateway.Result{
		ID:        id,
		Status:    paymentStatus(deref(payment.GetStatus())),
		Amount:    amountOf(payment.GetAmountMoney(), req.Amount),
		RemoteIDs: nonEmpty(id, deref(payment.GetReceiptNumber())),
	}
	if result.Status == gateway.StatusFailed {
		result.FailureCode = "GENERIC_DECLINE"
		result.FailureMessage = gateway.HumanMessage(result.FailureCode)
	}
	return result, nil
}

// Refund refunds a completed payment.
func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	units, err := req.Amount.MinorUnits()
	if err != nil {
		return gateway.Result{}, err
	}
	refund, err := g.api.RefundPayment(ctx, square.RefundCreateParams{
		PaymentID:      req.ChargeID,
		AmountCents:    units,
		Currency:       req.Amount.Currency.String(),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return declineOrError(err, req.Amount)
	}

	id := refund.GetID()
	result := gateway.Result{
		ID:        id,
		Status:    refundStatus(deref(refund.GetStatus())),
		Amount:    amountOf(refund.GetAmountMoney(), req.Amount),
		RemoteIDs: nonEmpty(id),
	}
	if result.Status == gateway.StatusFailed {
		result.FailureCode = "REFUND_FAILED"
		result.FailureMessage = gateway.HumanMessage(result.FailureCode)
	}
	return result, nil
}

// Transfer is not offered by Square; payouts go through Stripe.
func (g *Gateway) Transfer(context.Context, gateway.TransferRequest) (gateway.Result, error) {
	return gateway.Result{}, pkgerrors.New(pkgerrors.CodeDependency, "square does not support transfers")
}

func declineOrError(err error, amount money.Money) (gateway.Result, error) {
	if code, ok := square.DeclineCode(err); ok {
		return gateway.Result{
			Status:         gateway.StatusFailed,
			Amount:         amount,
			FailureCode:    code,
			FailureMessage: gateway.HumanMessage(code),
		}, nil
	}
	return gateway.Result{}, err
}

func paymentStatus(status string) gateway.Status {
	switch status {
	case "COMPLETED":
		return gateway.StatusSucceeded
	case "APPROVED", "PENDING":
		return gateway.StatusPending
	default:
		return gateway.StatusFailed
	}
}

func refundStatus(status string) gateway.Status {
	switch status {
	case "COMPLETED":
		return gateway.StatusSucceeded
	case "PENDING":
		return gateway.StatusPending
	default:
		return gateway.StatusFailed
	}
}

func amountOf(m *sq.Money, fallback money.Money) money.Money {
	if m == nil || m.GetAmount() == nil {
		return fallback
	}
	return money.FromMinorUnits(*m.GetAmount(), fallback.Currency)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
