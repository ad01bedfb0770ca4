package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/gateway/stripegw"
	"github.com/angelmondragon/ledgerd/internal/payments"
	"github.com/angelmondragon/ledgerd/internal/reversals"
	"github.com/angelmondragon/ledgerd/internal/webhooks"
	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// MetadataInvoice is the payment intent metadata key holding the invoice id.
const MetadataInvoice = "invoice_id"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type chargeApplier interface {
	AttemptCharge(ctx context.Context, invoiceID uuid.UUID, outcome payments.ChargeOutcome) (*payments.ChargeResult, error)
}

type refundSettler interface {
	SettleRefund(ctx context.Context, refundID uuid.UUID, res gateway.Result) (*reversals.RefundResult, error)
}

// ServiceParams groups dependencies for the Stripe webhook service.
type ServiceParams struct {
	Tx       txRunner
	Events   webhooks.Store
	Payments chargeApplier
	Refunds  refundSettler
	Logger   *logger.Logger
}

// Service applies Stripe events to the ledger.
type Service struct {
	tx       txRunner
	events   webhooks.Store
	payments chargeApplier
	refunds  refundSettler
	logg     *logger.Logger
}

// Outcome describes what one delivery did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeRejected means the event was understood but can never apply,
	// such as a stale intent. It is acknowledged so Stripe stops retrying.
	OutcomeRejected Outcome = "rejected"
)

// storedEvent is the persisted shape of a delivery; Replay decodes it.
type storedEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Object  json.RawMessage `json:"object"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event store required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund service required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		tx:       params.Tx,
		events:   params.Events,
		payments: params.Payments,
		refunds:  params.Refunds,
		logg:     params.Logger,
	}, nil
}

// HandleEvent stores a verified delivery and applies it unless it was
// already applied.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	_, err := s.Process(ctx, event, false)
	return err
}

// Process stores and applies event. With force set, a delivery already
// marked processed is applied again; handlers are idempotent so this only
// repairs missing effects.
func (s *Service) Process(ctx context.Context, event *stripe.Event, force bool) (Outcome, error) {
	if event == nil || event.Data == nil || event.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})

	payload, err := json.Marshal(storedEvent{ID: event.ID, Type: string(event.Type), Created: event.Created, Object: event.Data.Raw})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode stripe event")
	}
	row, err := s.events.Record(ctx, enums.GatewayStripe, event.ID, string(event.Type), payload)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store stripe event")
	}
	return s.apply(ctx, row, event, force)
}

// Replay applies a stored delivery again.
func (s *Service) Replay(ctx context.Context, eventID string, force bool) (Outcome, error) {
	row, err := s.events.Find(ctx, enums.GatewayStripe, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.Newf(pkgerrors.CodeNotFound, "stripe event %s not stored", eventID)
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load stripe event")
	}
	var stored storedEvent
	if err := json.Unmarshal(row.Payload, &stored); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored stripe event")
	}
	event := &stripe.Event{
		ID:      stored.ID,
		Type:    stripe.EventType(stored.Type),
		Created: stored.Created,
		Data:    &stripe.EventData{Raw: stored.Object},
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": stored.Type, "replay": true})
	return s.apply(ctx, row, event, force)
}

// apply runs the handler and the processed mark in one transaction with
// the delivery row locked, so a concurrent redelivery waits and then sees
// it processed.
func (s *Service) apply(ctx context.Context, row *models.WebhookEvent, event *stripe.Event, force bool) (Outcome, error) {
	var (
		outcome  Outcome
		applyErr error
		seen     bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)
		locked, err := events.Lock(ctx, row.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock stripe event")
		}
		if locked.ProcessedAt != nil && !force {
			seen = true
			return nil
		}

		outcome, applyErr = s.dispatch(db.ContextWithTx(ctx, tx), event)
		switch {
		case applyErr == nil:
			err = events.MarkProcessed(ctx, row.ID, nil)
		case permanent(applyErr):
			note := applyErr.Error()
			outcome = OutcomeRejected
			err = events.MarkProcessed(ctx, row.ID, &note)
		default:
			err = events.MarkFailed(ctx, row.ID, applyErr.Error())
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark stripe event")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch {
	case seen:
		s.logg.Info(ctx, "stripe event already processed")
		return OutcomeDuplicate, nil
	case outcome == OutcomeRejected:
		s.logg.Warn(s.logg.WithField(ctx, "reason", applyErr.Error()), "stripe event rejected")
		return OutcomeRejected, nil
	case applyErr != nil:
		return "", applyErr
	}
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (Outcome, error) {
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		return s.applyIntent(ctx, &intent)
	case stripe.EventTypeRefundUpdated, stripe.EventTypeChargeRefundUpdated:
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode refund")
		}
		return s.applyRefund(ctx, &refund)
	default:
		return OutcomeIgnored, nil
	}
}

func (s *Service) applyIntent(ctx context.Context, intent *stripe.PaymentIntent) (Outcome, error) {
	intentID := intent.Metadata[stripegw.MetadataIntent]
	rawInvoice := intent.Metadata[MetadataInvoice]
	if intentID == "" || rawInvoice == "" {
		return OutcomeIgnored, nil
	}
	invoiceID, err := uuid.Parse(rawInvoice)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id in metadata")
	}

	currency := enums.Currency(strings.ToUpper(string(intent.Currency)))
	outcome := payments.ChargeOutcome{
		EventID:   intent.ID,
		IntentID:  intentID,
		Amount:    money.FromMinorUnits(intent.Amount, currency),
		RemoteIDs: []string{intent.ID},
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		outcome.Succeeded = true
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return OutcomeIgnored, nil
	}
	if charge := intent.LatestCharge; charge != nil && charge.ID != "" {
		outcome.RemoteIDs = append(outcome.RemoteIDs, charge.ID)
		outcome.CardID = &charge.ID
		if charge.AuthorizationCode != "" {
			code := charge.AuthorizationCode
			outcome.AuthCode = &code
		}
	}
	if !outcome.Succeeded {
		outcome.FailureCode = "card_declined"
		if perr := intent.LastPaymentError; perr != nil {
			if perr.DeclineCode != "" {
				outcome.FailureCode = string(perr.DeclineCode)
			} else if perr.Code != "" {
				outcome.FailureCode = string(perr.Code)
			}
		}
		outcome.Message = gateway.HumanMessage(outcome.FailureCode)
	}

	result, err := s.payments.AttemptCharge(ctx, invoiceID, outcome)
	if err != nil {
		return "", err
	}
	if result.Duplicate {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func (s *Service) applyRefund(ctx context.Context, refund *stripe.Refund) (Outcome, error) {
	raw := refund.Metadata[stripegw.MetadataRecord]
	if raw == "" {
		return OutcomeIgnored, nil
	}
	recordID, err := uuid.Parse(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid ledger record in refund metadata")
	}
	res := gateway.Result{ID: refund.ID, RemoteIDs: []string{refund.ID}}
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		res.Status = gateway.StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		res.Status = gateway.StatusFailed
		res.FailureCode = string(refund.FailureReason)
		res.FailureMessage = gateway.HumanMessage(res.FailureCode)
	default:
		return OutcomeIgnored, nil
	}
	if _, err := s.refunds.SettleRefund(ctx, recordID, res); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeWrongStatus) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}
	return OutcomeApplied, nil
}

// permanent reports errors that redelivery can never fix.
func permanent(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeWrongStatus,
		pkgerrors.CodeAmountMismatch,
		pkgerrors.CodeIntentMismatch,
		pkgerrors.CodeUnsupportedSource:
		return true
	default:
		return false
	}
}
