// Package payments turns gateway charge results into ledger records and
// invoice state, and releases escrow once work is delivered.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/accounts"
	"github.com/angelmondragon/ledgerd/internal/deliverables"
	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/invoices"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
	"github.com/angelmondragon/ledgerd/pkg/money"
	"github.com/angelmondragon/ledgerd/pkg/outbox"
	"github.com/angelmondragon/ledgerd/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ChargeOutcome is what the gateway reported about one charge attempt.
// EventID is the gateway's id for the charge and doubles as the
// idempotency key: the synchronous response and the webhook for the same
// charge carry the same id.
type ChargeOutcome struct {
	EventID     string
	IntentID    string
	Amount      money.Money
	Succeeded   bool
	RemoteIDs   []string
	FailureCode string
	Message     string
	CardID      *string
	AuthCode    *string
}

// ChargeResult is the ledger view of a processed charge attempt.
type ChargeResult struct {
	Invoice   *models.Invoice
	Records   []models.TransactionRecord
	Duplicate bool
	// Pending is set when the gateway has not decided yet; a webhook will
	// deliver the outcome.
	Pending bool
}

// Succeeded reports whether the invoice is paid by this attempt.
func (r *ChargeResult) Succeeded() bool {
	return r != nil && r.Invoice != nil && r.Invoice.Status == enums.InvoicePaid && !r.Pending
}

// ChargeInput starts a charge against an invoice.
type ChargeInput struct {
	InvoiceID    uuid.UUID
	PaymentToken string
	Provider     enums.GatewayProvider
}

// ReleaseInput completes a deliverable and moves its escrow to the seller.
type ReleaseInput struct {
	DeliverableID uuid.UUID
	// Bonus, when positive, is paid from platform reserve on top of the escrow.
	Bonus money.Money
}

// ServiceParams wires the payment service.
type ServiceParams struct {
	Tx           txRunner
	Ledger       ledger.Service
	Invoices     *invoices.Service
	Deliverables deliverables.Repository
	Outbox       outboxPublisher
	Gateways     *gateway.Registry
	Retry        config.RetryConfig
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Service orchestrates invoice payment.
type Service struct {
	tx           txRunner
	ledger       ledger.Service
	invoices     *invoices.Service
	deliverables deliverables.Repository
	outbox       outboxPublisher
	gateways     *gateway.Registry
	retry        config.RetryConfig
	metrics      *metrics.LedgerMetrics
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the payment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:           params.Tx,
		ledger:       params.Ledger,
		invoices:     params.Invoices,
		deliverables: params.Deliverables,
		outbox:       params.Outbox,
		gateways:     params.Gateways,
		retry:        params.Retry,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          params.Now,
	}, nil
}

// Charge sets a fresh intent on the invoice, charges the gateway with
// retries and feeds the outcome to AttemptCharge. It fails with
// CodeStateConflict while an earlier attempt is still in flight. When retries run out the
// attempt is recorded as a failure and the payer is notified; the returned
// result then reports a failed, unpaid invoice.
func (s *Service) Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	intent := uuid.NewString()
	if err := s.invoices.SetIntent(ctx, input.InvoiceID, intent); err != nil {
		return nil, err
	}
	invoice, err := s.invoices.Get(ctx, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	totals, err := invoices.Compute(invoice)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithInvoiceID(ctx, invoice.ID.String())

	if invoice.RecordOnly {
		return s.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
			EventID:   "record-only:" + intent,
			IntentID:  intent,
			Amount:    totals.Total,
			Succeeded: true,
		})
	}

	provider := input.Provider
	if provider == "" {
		provider = enums.GatewayStripe
	}
	gw, err := s.gateways.For(provider)
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"amount": totals.Total.String(), "gateway": provider}), "charging invoice")
	res, err := gateway.Retry(ctx, s.retry, func(ctx context.Context) (gateway.Result, error) {
		return gw.Charge(ctx, gateway.ChargeRequest{
			Amount:         totals.Total,
			PaymentToken:   input.PaymentToken,
			IdempotencyKey: intent,
			Metadata:       map[string]string{"invoice_id": invoice.ID.String()},
		})
	})
	if err != nil {
		if !gateway.IsTransient(err) {
			return nil, err
		}
		s.logg.Error(ctx, "charge retries exhausted", err)
		return s.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
			EventID:     "exhausted:" + intent,
			IntentID:    intent,
			Amount:      totals.Total,
			FailureCode: "processing_error",
			Message:     gateway.HumanMessage("processing_error"),
		})
	}
	if res.Status == gateway.StatusPending {
		s.logg.Info(s.logg.WithField(ctx, "gateway_id", res.ID), "charge pending at gateway")
		return &ChargeResult{Invoice: invoice, Pending: true}, nil
	}

	eventID := res.ID
	if eventID == "" {
		eventID = "declined:" + intent
	}
	return s.AttemptCharge(ctx, invoice.ID, ChargeOutcome{
		EventID:     eventID,
		IntentID:    intent,
		Amount:      res.Amount,
		Succeeded:   res.Succeeded(),
		RemoteIDs:   res.RemoteIDs,
		FailureCode: res.FailureCode,
		Message:     res.Reason(),
	})
}

// AttemptCharge applies a gateway outcome to an invoice at most once per
// EventID. Amount and intent mismatches leave the invoice and ledger untouched.
func (s *Service) AttemptCharge(ctx context.Context, invoiceID uuid.UUID, outcome ChargeOutcome) (*ChargeResult, error) {
	if outcome.EventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway event id required")
	}
	ctx = s.logg.WithInvoiceID(ctx, invoiceID.String())
	ctx = s.logg.WithField(ctx, "gateway_event_id", outcome.EventID)

	var result *ChargeResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.invoices.InTx(tx)
		led := s.ledger.WithTx(tx)

		if err := repo.Lock(ctx, invoiceID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock invoice")
		}
		invoice, err := repo.FindByID(ctx, invoiceID, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "invoice %s not found", invoiceID)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
		}
		totals, err := invoices.Compute(invoice)
		if err != nil {
			return err
		}

		if outcome.Succeeded {
			if outcome.Amount.Currency != totals.Total.Currency || !outcome.Amount.Amount.Equal(totals.Total.Amount) {
				return pkgerrors.Newf(pkgerrors.CodeAmountMismatch, "gateway reported %s, invoice %s totals %s", outcome.Amount, invoice.ID, totals.Total).
					WithDetails(map[string]any{"reported": outcome.Amount.String(), "expected": totals.Total.String()})
			}
		}
		// A replayed event is answered from the ledger even after a failure
		// cleared the intent it ran under.
		existing, err := s.recordsForEvent(ctx, led, invoice.ID, outcome)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result = &ChargeResult{Invoice: invoice, Records: existing, Duplicate: true}
			return nil
		}

		current := ""
		if invoice.CurrentIntent != nil {
			current = *invoice.CurrentIntent
		}
		if current == "" || current != outcome.IntentID {
			return pkgerrors.Newf(pkgerrors.CodeIntentMismatch, "intent %q does not match invoice %s", outcome.IntentID, invoice.ID).
				WithDetails(map[string]any{"reported": outcome.IntentID, "expected": current})
		}

		if outcome.Succeeded {
			if invoice.Status != enums.InvoiceOpen {
				return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "invoice %s is %s", invoice.ID, invoice.Status)
			}
			records, err := s.applySuccess(ctx, tx, repo, led, invoice, totals, outcome)
			if err != nil {
				return err
			}
			result = &ChargeResult{Invoice: invoice, Records: records}
			return nil
		}

		if invoice.Status != enums.InvoiceOpen {
			return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "invoice %s is %s", invoice.ID, invoice.Status)
		}
		record, err := s.applyFailure(ctx, tx, led, invoice, totals, outcome)
		if err != nil {
			return err
		}
		if err := repo.UpdateFields(ctx, invoice.ID, map[string]any{"current_intent": nil}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear intent")
		}
		invoice.CurrentIntent = nil
		result = &ChargeResult{Invoice: invoice, Records: []models.TransactionRecord{*record}}
		return nil
	})
	if err != nil {
		s.observeRejection(ctx, err)
		return nil, err
	}

	switch {
	case result.Duplicate:
		s.metrics.IncCharge("duplicate")
		s.logg.Info(ctx, "charge outcome already applied")
	case outcome.Succeeded:
		s.metrics.IncCharge("succeeded")
		s.logg.Info(ctx, "invoice paid")
	default:
		s.metrics.IncCharge("failed")
		s.logg.Warn(s.logg.WithField(ctx, "reason", outcome.Message), "charge failed")
	}
	return result, nil
}

func (s *Service) observeRejection(ctx context.Context, err error) {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeAmountMismatch, pkgerrors.CodeIntentMismatch:
		s.metrics.IncCharge("rejected")
		s.logg.Error(ctx, "gateway outcome disagrees with invoice", err)
	}
}

// recordsForEvent finds records this event already produced.
func (s *Service) recordsForEvent(ctx context.Context, led ledger.Service, invoiceID uuid.UUID, outcome ChargeOutcome) ([]models.TransactionRecord, error) {
	status := enums.TransactionFailure
	if outcome.Succeeded {
		status = enums.TransactionSuccess
	}
	records, err := led.Find(ctx, ledger.Query{
		Targets:  []ledger.Target{ledger.InvoiceTarget(invoiceID)},
		Statuses: []enums.TransactionStatus{status},
	})
	if err != nil {
		return nil, err
	}
	var out []models.TransactionRecord
	for _, r := range records {
		for _, id := range r.RemoteIDs {
			if id == outcome.EventID {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *Service) applySuccess(ctx context.Context, tx *gorm.DB, repo invoices.Repository, led ledger.Service, invoice *models.Invoice, totals invoices.Totals, outcome ChargeOutcome) ([]models.TransactionRecord, error) {
	targets := invoiceTargets(invoice)
	remoteIDs := append([]string{outcome.EventID}, outcome.RemoteIDs...)
	source := invoice.PaymentSource
	if source == "" {
		source = enums.AccountCard
	}

	var records []models.TransactionRecord
	legSource := source
	if !invoice.RecordOnly {
		funding, err := led.Record(ctx, ledger.RecordInput{
			Source:      source,
			Destination: enums.AccountFund,
			Amount:      totals.Total,
			Category:    accounts.FundingCategory(source),
			PayerID:     invoice.BillToID,
			Targets:     targets,
			Status:      enums.TransactionSuccess,
			RemoteIDs:   remoteIDs,
			CardID:      outcome.CardID,
			AuthCode:    outcome.AuthCode,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, *funding)
		legSource = enums.AccountFund
	}

	legs, err := routeLegs(invoice, totals)
	if err != nil {
		return nil, err
	}
	for _, leg := range legs {
		in := ledger.RecordInput{
			Source:      legSource,
			Destination: leg.destination,
			Amount:      money.New(leg.amount.Amount.Abs(), leg.amount.Currency),
			Category:    leg.category,
			PayeeID:     leg.owner,
			Targets:     targets,
			Status:      enums.TransactionSuccess,
			RemoteIDs:   remoteIDs,
		}
		if invoice.RecordOnly {
			in.PayerID = invoice.BillToID
		}
		if leg.amount.IsNegative() {
			// Discounts flow back into the paying account.
			in.Source, in.Destination = in.Destination, in.Source
			in.PayerID, in.PayeeID = in.PayeeID, in.PayerID
		}
		rec, err := led.Record(ctx, in)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if _, err := invoices.FreezeLoaded(ctx, repo, invoice); err != nil {
		return nil, err
	}
	paidOn := s.now()
	if err := repo.UpdateFields(ctx, invoice.ID, map[string]any{"status": enums.InvoicePaid, "paid_on": paidOn}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark invoice paid")
	}
	invoice.Status = enums.InvoicePaid
	invoice.PaidOn = &paidOn

	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Data:          paymentEvent(invoice, totals.Total, records, outcome, paidOn),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment_succeeded")
	}
	return records, nil
}

func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, led ledger.Service, invoice *models.Invoice, totals invoices.Totals, outcome ChargeOutcome) (*models.TransactionRecord, error) {
	source := invoice.PaymentSource
	if source == "" {
		source = enums.AccountCard
	}
	message := outcome.Message
	if message == "" {
		message = gateway.HumanMessage(outcome.FailureCode)
	}
	record, err := led.Record(ctx, ledger.RecordInput{
		Source:          source,
		Destination:     enums.AccountFund,
		Amount:          totals.Total,
		Category:        accounts.FundingCategory(source),
		PayerID:         invoice.BillToID,
		Targets:         invoiceTargets(invoice),
		Status:          enums.TransactionFailure,
		RemoteIDs:       append([]string{outcome.EventID}, outcome.RemoteIDs...),
		ResponseMessage: message,
		CardID:          outcome.CardID,
	})
	if err != nil {
		return nil, err
	}
	outcome.Message = message
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Data:          paymentEvent(invoice, totals.Total, []models.TransactionRecord{*record}, outcome, s.now()),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment_failed")
	}
	return record, nil
}

// ReleaseEscrow marks a deliverable completed and moves everything held in
// escrow for it to the seller's holdings, plus an optional bonus from
// platform reserve, in one transaction.
func (s *Service) ReleaseEscrow(ctx context.Context, input ReleaseInput) ([]models.TransactionRecord, error) {
	if s.deliverables == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deliverable repository required")
	}
	ctx = s.logg.WithField(ctx, "deliverable_id", input.DeliverableID.String())

	var records []models.TransactionRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.deliverables.WithTx(tx)
		led := s.ledger.WithTx(tx)

		deliverable, err := repo.FindByID(ctx, input.DeliverableID, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "deliverable %s not found", input.DeliverableID)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load deliverable")
		}
		if deliverable.CompletedOn != nil {
			return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "deliverable %s is already completed", deliverable.ID)
		}

		target := ledger.DeliverableTarget(deliverable.ID)
		holds, err := led.Find(ctx, ledger.Query{
			Targets:      []ledger.Target{target},
			Destinations: []enums.AccountType{enums.AccountEscrow},
			Statuses:     []enums.TransactionStatus{enums.TransactionSuccess},
		})
		if err != nil {
			return err
		}
		drains, err := led.Find(ctx, ledger.Query{
			Targets:  []ledger.Target{target},
			Sources:  []enums.AccountType{enums.AccountEscrow},
			Statuses: []enums.TransactionStatus{enums.TransactionSuccess, enums.TransactionPending},
		})
		if err != nil {
			return err
		}
		held := money.Zero(deliverable.Currency)
		var escrowOwner *uuid.UUID
		targets := []ledger.Target{target}
		for _, h := range holds {
			if held, err = held.Add(money.New(h.Amount, h.Currency)); err != nil {
				return err
			}
			if escrowOwner == nil {
				escrowOwner = h.PayeeID
			}
			targets = append(targets, ledger.TargetsOf(&h)...)
		}
		for _, d := range drains {
			if held, err = held.Sub(money.New(d.Amount, d.Currency)); err != nil {
				return err
			}
		}
		if !held.IsPositive() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "nothing held in escrow for deliverable %s", deliverable.ID)
		}
		if escrowOwner == nil {
			escrowOwner = deliverable.BuyerID
		}
		seller := deliverable.SellerID

		release, err := led.Record(ctx, ledger.RecordInput{
			Source:      enums.AccountEscrow,
			Destination: enums.AccountHoldings,
			Amount:      held,
			Category:    enums.CategoryEscrowRelease,
			PayerID:     escrowOwner,
			PayeeID:     &seller,
			Targets:     targets,
			Status:      enums.TransactionSuccess,
		})
		if err != nil {
			return err
		}
		records = append(records, *release)

		if input.Bonus.IsPositive() {
			if input.Bonus.Currency != deliverable.Currency {
				return money.ErrInvalidCurrencyOperation(input.Bonus.Currency, deliverable.Currency)
			}
			bonus, err := led.Record(ctx, ledger.RecordInput{
				Amount:   input.Bonus,
				Category: enums.CategoryPremiumBonus,
				PayeeID:  &seller,
				Targets:  targets,
				Status:   enums.TransactionSuccess,
			})
			if err != nil {
				return err
			}
			records = append(records, *bonus)
		}

		if _, err := repo.MarkCompleted(ctx, deliverable.ID, s.now()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete deliverable")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "escrow released")
	return records, nil
}

type leg struct {
	destination enums.AccountType
	category    enums.TransactionCategory
	owner       *uuid.UUID
	amount      money.Money
}

// routeLegs aggregates frozen line subtotals per (destination, category,
// owner). User-owned escrow belongs to the payer; other user accounts to the
// line's destination user.
func routeLegs(invoice *models.Invoice, totals invoices.Totals) ([]leg, error) {
	index := map[string]int{}
	var legs []leg
	for i, line := range invoice.LineItems {
		amount := totals.Subtotals[i]
		if amount.IsZero() {
			continue
		}
		route, err := accounts.RouteForLineItem(line.Type, line.DestinationAccount)
		if err != nil {
			return nil, err
		}
		var owner *uuid.UUID
		if accounts.IsUserOwned(route.Destination) {
			owner = line.DestinationUserID
			if route.Destination == enums.AccountEscrow || owner == nil {
				owner = invoice.BillToID
			}
		}
		key := fmt.Sprintf("%s|%s|%s", route.Destination, route.Category, ownerKey(owner))
		if at, ok := index[key]; ok {
			sum, err := legs[at].amount.Add(amount)
			if err != nil {
				return nil, err
			}
			legs[at].amount = sum
			continue
		}
		index[key] = len(legs)
		legs = append(legs, leg{destination: route.Destination, category: route.Category, owner: owner, amount: amount})
	}
	out := legs[:0]
	for _, l := range legs {
		if !l.amount.IsZero() {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].amount.IsPositive() && !out[b].amount.IsPositive()
	})
	return out, nil
}

func ownerKey(id *uuid.UUID) string {
	if id == nil {
		return "platform"
	}
	return id.String()
}

func invoiceTargets(invoice *models.Invoice) []ledger.Target {
	targets := []ledger.Target{ledger.InvoiceTarget(invoice.ID)}
	if invoice.DeliverableID != nil {
		targets = append(targets, ledger.DeliverableTarget(*invoice.DeliverableID))
	}
	if invoice.SubscriptionID != nil {
		targets = append(targets, ledger.SubscriptionTarget(*invoice.SubscriptionID))
	}
	return targets
}

func paymentEvent(invoice *models.Invoice, total money.Money, records []models.TransactionRecord, outcome ChargeOutcome, at time.Time) payloads.PaymentEvent {
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return payloads.PaymentEvent{
		InvoiceID:      invoice.ID,
		BillToID:       invoice.BillToID,
		Amount:         total.Amount.StringFixed(money.Digits(total.Currency)),
		Currency:       total.Currency.String(),
		TransactionIDs: ids,
		GatewayEventID: outcome.EventID,
		Reason:         outcome.Message,
		OccurredAt:     at,
	}
}
