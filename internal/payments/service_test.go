package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/deliverables"
	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/gateway/gatewaytest"
	"github.com/angelmondragon/ledgerd/internal/invoices"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db/dbtest"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/money"
	"github.com/angelmondragon/ledgerd/pkg/outbox"
)

type fixture struct {
	svc          *Service
	ledger       ledger.Service
	invoices     *invoices.Service
	deliverables deliverables.Repository
	gateway      *gatewaytest.Fake
	db           *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()

	led, err := ledger.NewService(ledger.ServiceParams{Repo: ledger.NewRepository(conn)})
	require.NoError(t, err)
	inv, err := invoices.NewService(invoices.ServiceParams{Repo: invoices.NewRepository(conn), Tx: client})
	require.NoError(t, err)
	fake := &gatewaytest.Fake{}
	dels := deliverables.NewRepository(conn)

	svc, err := NewService(ServiceParams{
		Tx:           client,
		Ledger:       led,
		Invoices:     inv,
		Deliverables: dels,
		Outbox:       outbox.NewService(outbox.NewRepository(conn), nil),
		Gateways:     gateway.NewRegistry(fake),
		Retry:        config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)
	return &fixture{svc: svc, ledger: led, invoices: inv, deliverables: dels, gateway: fake, db: conn}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func usd(s string) money.Money { return money.MustParse(s, enums.CurrencyUSD) }

// saleInvoice is a 15.00 base price plus a 5.5% + 3.00 shield fee: 18.83 total.
func (f *fixture) saleInvoice(t *testing.T, buyer uuid.UUID, deliverableID *uuid.UUID, mutate func(*invoices.CreateInput)) *models.Invoice {
	t.Helper()
	input := invoices.CreateInput{
		Type:          enums.InvoiceTypeSale,
		Currency:      enums.CurrencyUSD,
		BillToID:      &buyer,
		DeliverableID: deliverableID,
		Open:          true,
		LineItems: []invoices.LineItemInput{
			{Type: enums.LineItemBasePrice, Amount: dec("15.00")},
			{Type: enums.LineItemShield, Amount: dec("3.00"), Percentage: dec("5.5"), Priority: 300},
		},
	}
	if mutate != nil {
		mutate(&input)
	}
	invoice, err := f.invoices.Create(context.Background(), input)
	require.NoError(t, err)
	return invoice
}

func (f *fixture) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (f *fixture) recordsFor(t *testing.T, invoiceID uuid.UUID) []models.TransactionRecord {
	t.Helper()
	records, err := f.ledger.Find(context.Background(), ledger.Query{Targets: []ledger.Target{ledger.InvoiceTarget(invoiceID)}})
	require.NoError(t, err)
	return records
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}

func TestChargeRoutesInvoiceAndConserves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	invoice := f.saleInvoice(t, buyer, nil, nil)

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID, PaymentToken: "pm_card"})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.False(t, result.Duplicate)
	require.Len(t, result.Records, 3)

	require.Len(t, f.gateway.Charges, 1)
	charge := f.gateway.Charges[0]
	assert.Equal(t, "18.83 USD", charge.Amount.String())
	assert.Equal(t, invoice.ID.String(), charge.Metadata["invoice_id"])
	assert.NotEmpty(t, charge.IdempotencyKey)

	funding := result.Records[0]
	assert.Equal(t, enums.AccountCard, funding.Source)
	assert.Equal(t, enums.AccountFund, funding.Destination)
	assert.True(t, funding.Amount.Equal(dec("18.83")))
	assert.Equal(t, &buyer, funding.PayerID)
	assert.Contains(t, []string(funding.RemoteIDs), "pi_1")

	escrow := result.Records[1]
	assert.Equal(t, enums.AccountEscrow, escrow.Destination)
	assert.Equal(t, enums.CategoryEscrowHold, escrow.Category)
	assert.True(t, escrow.Amount.Equal(dec("15.00")))
	assert.Equal(t, &buyer, escrow.PayeeID)

	fee := result.Records[2]
	assert.Equal(t, enums.AccountReserve, fee.Destination)
	assert.Equal(t, enums.CategoryServiceFee, fee.Category)
	assert.True(t, fee.Amount.Equal(dec("3.83")))
	assert.Nil(t, fee.PayeeID)

	imbalances, err := f.ledger.CheckConservation(ctx)
	require.NoError(t, err)
	assert.Empty(t, imbalances)

	held, err := f.ledger.Balance(ctx, ledger.BalanceQuery{Entity: &buyer, Account: enums.AccountEscrow, Filter: enums.BalanceSuccess})
	require.NoError(t, err)
	assert.Equal(t, "15.00 USD", held.String())

	paid, err := f.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoicePaid, paid.Status)
	require.NotNil(t, paid.PaidOn)
	for _, line := range paid.LineItems {
		assert.True(t, line.FrozenValue.Valid)
	}
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentSucceeded))
}

func TestAttemptChargeAppliesEachEventOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.saleInvoice(t, uuid.New(), nil, nil)

	first, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.True(t, first.Succeeded())

	paid, err := f.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.CurrentIntent)

	replay, err := f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID:   "pi_1",
		IntentID:  *paid.CurrentIntent,
		Amount:    usd("18.83"),
		Succeeded: true,
	})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Len(t, replay.Records, 3)
	assert.Len(t, f.recordsFor(t, invoice.ID), 3)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentSucceeded))

	_, err = f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID:   "pi_other",
		IntentID:  *paid.CurrentIntent,
		Amount:    usd("18.83"),
		Succeeded: true,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeWrongStatus))
}

func TestAttemptChargeRejectsMismatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.saleInvoice(t, uuid.New(), nil, nil)
	require.NoError(t, f.invoices.SetIntent(ctx, invoice.ID, "intent-1"))

	_, err := f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID: "pi_1", IntentID: "intent-1", Amount: usd("10.00"), Succeeded: true,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeAmountMismatch))

	_, err = f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID: "pi_1", IntentID: "intent-2", Amount: usd("18.83"), Succeeded: true,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeIntentMismatch))

	_, err = f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{IntentID: "intent-1", Amount: usd("18.83"), Succeeded: true})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	loaded, err := f.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceOpen, loaded.Status)
	assert.Empty(t, f.recordsFor(t, invoice.ID))
}

func TestChargeDeclineRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	invoice := f.saleInvoice(t, buyer, nil, nil)
	f.gateway.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gatewaytest.Declined("pi_declined", "insufficient_funds"), nil
	}

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	require.Len(t, result.Records, 1)

	failure := result.Records[0]
	assert.Equal(t, enums.TransactionFailure, failure.Status)
	assert.Equal(t, gateway.HumanMessage("insufficient_funds"), failure.ResponseMessage)
	assert.True(t, failure.Amount.Equal(dec("18.83")))
	assert.Equal(t, &buyer, failure.PayerID)

	loaded, err := f.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceOpen, loaded.Status)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentFailed))
	assert.Zero(t, f.outboxCount(t, enums.EventPaymentSucceeded))

	f.gateway.ChargeFn = nil
	retried, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	assert.True(t, retried.Succeeded())
}

func TestChargeRetriesExhaustedRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.saleInvoice(t, uuid.New(), nil, nil)
	f.gateway.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{}, gateway.Transient(errors.New("connection reset"), "charge")
	}

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.Len(t, f.gateway.Charges, 2)
	require.Len(t, result.Records, 1)
	assert.Equal(t, gateway.HumanMessage("processing_error"), result.Records[0].ResponseMessage)
}

func TestChargePendingWaitsForWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.saleInvoice(t, uuid.New(), nil, nil)
	f.gateway.ChargeFn = func(_ context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{ID: "pi_slow", Status: gateway.StatusPending, Amount: req.Amount}, nil
	}

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	assert.True(t, result.Pending)
	assert.Empty(t, result.Records)
	assert.Empty(t, f.recordsFor(t, invoice.ID))
}

func TestChargeRefusedWhileAttemptInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.saleInvoice(t, uuid.New(), nil, nil)
	f.gateway.ChargeFn = func(_ context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
		return gateway.Result{ID: "pi_first", Status: gateway.StatusPending, Amount: req.Amount, RemoteIDs: []string{"pi_first"}}, nil
	}

	first, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.True(t, first.Pending)
	require.Len(t, f.gateway.Charges, 1)
	intent := f.gateway.Charges[0].IdempotencyKey

	f.gateway.ChargeFn = nil
	_, err = f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	assert.Len(t, f.gateway.Charges, 1)

	settled, err := f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID:   "pi_first",
		IntentID:  intent,
		Amount:    usd("18.83"),
		Succeeded: true,
	})
	require.NoError(t, err)
	assert.True(t, settled.Succeeded())
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentSucceeded))
}

func TestDeclineWebhookMatchesSynchronousDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.saleInvoice(t, uuid.New(), nil, nil)
	f.gateway.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.Result, error) {
		return gatewaytest.Declined("pi_declined", "card_declined"), nil
	}

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	intent := f.gateway.Charges[0].IdempotencyKey

	cleared, err := f.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.CurrentIntent)

	replay, err := f.svc.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID:     "pi_declined",
		IntentID:    intent,
		Amount:      usd("18.83"),
		RemoteIDs:   []string{"pi_declined", "ch_declined"},
		FailureCode: "card_declined",
	})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)

	failures, err := f.ledger.Find(ctx, ledger.Query{
		Targets:  []ledger.Target{ledger.InvoiceTarget(invoice.ID)},
		Statuses: []enums.TransactionStatus{enums.TransactionFailure},
	})
	require.NoError(t, err)
	assert.Len(t, failures, 1)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentFailed))
}

func TestRecordOnlyInvoiceSkipsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	invoice := f.saleInvoice(t, buyer, nil, func(in *invoices.CreateInput) {
		in.RecordOnly = true
		in.PaymentSource = enums.AccountCashDeposit
	})

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Empty(t, f.gateway.Charges)
	require.Len(t, result.Records, 2)
	for _, r := range result.Records {
		assert.Equal(t, enums.AccountCashDeposit, r.Source)
		assert.Equal(t, &buyer, r.PayerID)
	}
	assert.Equal(t, enums.AccountEscrow, result.Records[0].Destination)
	assert.Equal(t, enums.AccountReserve, result.Records[1].Destination)
}

func TestDiscountLineFlowsBackToFund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	invoice := f.saleInvoice(t, buyer, nil, func(in *invoices.CreateInput) {
		in.LineItems = []invoices.LineItemInput{
			{Type: enums.LineItemBasePrice, Amount: dec("20.00")},
			{Type: enums.LineItemReconciliation, Amount: dec("-5.00")},
		}
	})

	result, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Len(t, result.Records, 3)
	assert.True(t, result.Records[0].Amount.Equal(dec("15.00")))

	refund := result.Records[2]
	assert.Equal(t, enums.AccountReserve, refund.Source)
	assert.Equal(t, enums.AccountFund, refund.Destination)
	assert.True(t, refund.Amount.Equal(dec("5.00")))

	imbalances, err := f.ledger.CheckConservation(ctx)
	require.NoError(t, err)
	assert.Empty(t, imbalances)
}

func TestReleaseEscrowPaysSellerWithBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	seller := uuid.New()
	deliverable := &models.Deliverable{SellerID: seller, BuyerID: &buyer, Amount: dec("15.00"), Currency: enums.CurrencyUSD}
	require.NoError(t, f.deliverables.Create(ctx, deliverable))
	invoice := f.saleInvoice(t, buyer, &deliverable.ID, nil)

	_, err := f.svc.Charge(ctx, ChargeInput{InvoiceID: invoice.ID})
	require.NoError(t, err)

	records, err := f.svc.ReleaseEscrow(ctx, ReleaseInput{DeliverableID: deliverable.ID, Bonus: usd("2.00")})
	require.NoError(t, err)
	require.Len(t, records, 2)

	release := records[0]
	assert.Equal(t, enums.AccountEscrow, release.Source)
	assert.Equal(t, enums.AccountHoldings, release.Destination)
	assert.True(t, release.Amount.Equal(dec("15.00")))
	assert.Equal(t, &buyer, release.PayerID)
	assert.Equal(t, &seller, release.PayeeID)
	assert.Equal(t, enums.CategoryPremiumBonus, records[1].Category)

	holdings, err := f.ledger.Balance(ctx, ledger.BalanceQuery{Entity: &seller, Account: enums.AccountHoldings, Filter: enums.BalanceSuccess})
	require.NoError(t, err)
	assert.Equal(t, "17.00 USD", holdings.String())

	escrow, err := f.ledger.Balance(ctx, ledger.BalanceQuery{Entity: &buyer, Account: enums.AccountEscrow, Filter: enums.BalanceSuccess})
	require.NoError(t, err)
	assert.True(t, escrow.IsZero())

	completed, err := f.deliverables.FindByID(ctx, deliverable.ID, false)
	require.NoError(t, err)
	assert.NotNil(t, completed.CompletedOn)

	_, err = f.svc.ReleaseEscrow(ctx, ReleaseInput{DeliverableID: deliverable.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeWrongStatus))
}

func TestReleaseEscrowRequiresHeldFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deliverable := &models.Deliverable{SellerID: uuid.New(), Amount: dec("15.00"), Currency: enums.CurrencyUSD}
	require.NoError(t, f.deliverables.Create(ctx, deliverable))

	_, err := f.svc.ReleaseEscrow(ctx, ReleaseInput{DeliverableID: deliverable.ID})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.ReleaseEscrow(ctx, ReleaseInput{DeliverableID: uuid.New()})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
