// Package stripegw adapts Stripe payment intents, refunds and connect
// transfers to the ledger's gateway interface.
package stripegw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/charge"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/money"
	pkgstripe "github.com/angelmondragon/ledgerd/pkg/stripe"
)

// MetadataIntent is the metadata key that carries the ledger's intent id on
// every payment intent, so webhooks can be matched to the invoice attempt.
const MetadataIntent = "ledger_intent"

// MetadataRecord carries the id of the pending ledger record a refund settles.
const MetadataRecord = "ledger_record"

// API is the subset of Stripe calls the adapter makes.
type API interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
	CreateTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error)
	GetCharge(ctx context.Context, id string, params *stripe.ChargeParams) (*stripe.Charge, error)
}

type apiWrapper struct{}

// NewAPI wraps the package-level Stripe resources configured by pkg/stripe.
func NewAPI(client *pkgstripe.Client) API {
	if client == nil {
		return nil
	}
	return apiWrapper{}
}

func (apiWrapper) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return paymentintent.New(params)
}

func (apiWrapper) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	params.Context = ctx
	return refund.New(params)
}

func (apiWrapper) CreateTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error) {
	params.Context = ctx
	return transfer.New(params)
}

func (apiWrapper) GetCharge(ctx context.Context, id string, params *stripe.ChargeParams) (*stripe.Charge, error) {
	params.Context = ctx
	return charge.Get(id, params)
}

// Gateway implements gateway.Gateway and gateway.FeeLookup for Stripe.
type Gateway struct {
	api  API
	logg *logger.Logger
}

// New builds the adapter.
func New(api API, logg *logger.Logger) (*Gateway, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe api required")
	}
	return &Gateway{api: api, logg: logg}, nil
}

func (g *Gateway) Provider() enums.GatewayProvider {
	return enums.GatewayStripe
}

// Charge creates and confirms an off-session payment intent.
func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	units, err := req.Amount.MinorUnits()
	if err != nil {
		return gateway.Result{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(units),
		Currency:      stripe.String(strings.ToLower(req.Amount.Currency.String())),
		PaymentMethod: stripe.String(req.PaymentToken),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
		params.AddMetadata(MetadataIntent, req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_charge")

	g.log(ctx, "request", "charge", map[string]any{"amount": units, "currency": req.Amount.Currency})
	intent, err := g.api.CreatePaymentIntent(ctx, params)
	if err != nil {
		return g.declineOrError(ctx, "charge", err, req.Amount)
	}

	result := gateway.Result{
		ID:        intent.ID,
		Status:    intentStatus(intent.Status),
		Amount:    money.FromMinorUnits(intent.Amount, req.Amount.Currency),
		RemoteIDs: []string{intent.ID},
	}
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		result.RemoteIDs = append(result.RemoteIDs, intent.LatestCharge.ID)
		if bt := intent.LatestCharge.BalanceTransaction; bt != nil && bt.ID != "" {
			result.RemoteIDs = append(result.RemoteIDs, bt.ID)
		}
	}
	if perr := intent.LastPaymentError; perr != nil && result.Status == gateway.StatusFailed {
		result.FailureCode = failureCode(perr)
		result.FailureMessage = gateway.HumanMessage(result.FailureCode)
	}
	g.log(ctx, "response", "charge", map[string]any{"intent_id": intent.ID, "status": result.Status})
	return result, nil
}

// Refund refunds part or all of a charge.
func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	units, err := req.Amount.MinorUnits()
	if err != nil {
		return gateway.Result{}, err
	}
	params := &stripe.RefundParams{Amount: stripe.Int64(units)}
	if strings.HasPrefix(req.ChargeID, "pi_") {
		params.PaymentIntent = stripe.String(req.ChargeID)
	} else {
		params.Charge = stripe.String(req.ChargeID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
		params.AddMetadata(MetadataRecord, req.IdempotencyKey)
	}

	g.log(ctx, "request", "refund", map[string]any{"charge_id": req.ChargeID, "amount": units})
	re, err := g.api.CreateRefund(ctx, params)
	if err != nil {
		return g.declineOrError(ctx, "refund", err, req.Amount)
	}
	result := gateway.Result{
		ID:        re.ID,
		Status:    refundStatus(re.Status),
		Amount:    money.FromMinorUnits(re.Amount, req.Amount.Currency),
		RemoteIDs: []string{re.ID},
	}
	if bt := re.BalanceTransaction; bt != nil && bt.ID != "" {
		result.RemoteIDs = append(result.RemoteIDs, bt.ID)
	}
	if result.Status == gateway.StatusFailed {
		result.FailureCode = string(re.FailureReason)
		result.FailureMessage = gateway.HumanMessage(result.FailureCode)
	}
	g.log(ctx, "response", "refund", map[string]any{"refund_id": re.ID, "status": result.Status})
	return result, nil
}

// Transfer moves funds to a connected account.
func (g *Gateway) Transfer(ctx context.Context, req gateway.TransferRequest) (gateway.Result, error) {
	units, err := req.Amount.MinorUnits()
	if err != nil {
		return gateway.Result{}, err
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(units),
		Currency:    stripe.String(strings.ToLower(req.Amount.Currency.String())),
		Destination: stripe.String(req.Destination),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	g.log(ctx, "request", "transfer", map[string]any{"amount": units, "currency": req.Amount.Currency})
	tr, err := g.api.CreateTransfer(ctx, params)
	if err != nil {
		return g.declineOrError(ctx, "transfer", err, req.Amount)
	}
	result := gateway.Result{
		ID:        tr.ID,
		Status:    gateway.StatusSucceeded,
		Amount:    money.FromMinorUnits(tr.Amount, req.Amount.Currency),
		RemoteIDs: []string{tr.ID},
	}
	if bt := tr.BalanceTransaction; bt != nil && bt.ID != "" {
		result.RemoteIDs = append(result.RemoteIDs, bt.ID)
	}
	g.log(ctx, "response", "transfer", map[string]any{"transfer_id": tr.ID})
	return result, nil
}

// BalanceTransactionID returns the settlement id behind a charge or payment intent.
func (g *Gateway) BalanceTransactionID(ctx context.Context, chargeID string) (string, error) {
	params := &stripe.ChargeParams{}
	params.AddExpand("balance_transaction")
	ch, err := g.api.GetCharge(ctx, chargeID, params)
	if err != nil {
		return "", mapError(err, "lookup charge")
	}
	if ch == nil || ch.BalanceTransaction == nil {
		return "", nil
	}
	return ch.BalanceTransaction.ID, nil
}

// declineOrError turns card and invalid-request errors into a failed result
// and everything else into an error.
func (g *Gateway) declineOrError(ctx context.Context, op string, err error, amount money.Money) (gateway.Result, error) {
	var serr *stripe.Error
	if errors.As(err, &serr) && (serr.Type == stripe.ErrorTypeCard || serr.Type == stripe.ErrorTypeInvalidRequest) && !isTransient(serr) {
		code := failureCode(serr)
		// A card decline still created the intent; its id keys the
		// payment_failed webhook for the same attempt.
		intentID := ""
		if serr.PaymentIntent != nil {
			intentID = serr.PaymentIntent.ID
		}
		g.log(ctx, "declined", op, map[string]any{"code": code, "request_id": serr.RequestID, "intent_id": intentID})
		return gateway.Result{
			ID:             intentID,
			Status:         gateway.StatusFailed,
			Amount:         amount,
			RemoteIDs:      nonEmpty(intentID, serr.ChargeID, serr.RequestID),
			FailureCode:    code,
			FailureMessage: gateway.HumanMessage(code),
		}, nil
	}
	g.log(ctx, "error", op, map[string]any{"error": err.Error()})
	return gateway.Result{}, mapError(err, op)
}

func mapError(err error, op string) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if isTransient(serr) {
			return gateway.Transient(err, "stripe "+op)
		}
		switch serr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, fmt.Sprintf("stripe %s failed", op))
		case http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("stripe %s failed", op))
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
	}
	// Network failures never produced a verdict.
	return gateway.Transient(err, "stripe "+op)
}

func isTransient(serr *stripe.Error) bool {
	return serr.HTTPStatusCode == http.StatusTooManyRequests ||
		serr.HTTPStatusCode >= http.StatusInternalServerError ||
		serr.Type == stripe.ErrorTypeAPI
}

func failureCode(serr *stripe.Error) string {
	if serr == nil {
		return ""
	}
	if serr.DeclineCode != "" {
		return string(serr.DeclineCode)
	}
	return string(serr.Code)
}

func intentStatus(status stripe.PaymentIntentStatus) gateway.Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.StatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return gateway.StatusPending
	default:
		return gateway.StatusFailed
	}
}

func refundStatus(status stripe.RefundStatus) gateway.Status {
	switch status {
	case stripe.RefundStatusSucceeded:
		return gateway.StatusSucceeded
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return gateway.StatusPending
	default:
		return gateway.StatusFailed
	}
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

func (g *Gateway) log(ctx context.Context, phase, op string, fields map[string]any) {
	if g.logg == nil {
		return
	}
	fields["operation"] = op
	fields["phase"] = phase
	ctx = g.logg.WithFields(ctx, fields)
	if phase == "error" {
		g.logg.Error(ctx, "stripe "+op, errors.New(fmt.Sprint(fields["error"])))
		return
	}
	g.logg.Info(ctx, "stripe "+phase)
}
