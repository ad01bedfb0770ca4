// Package billing renews premium subscriptions by invoicing and charging
// each term.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/invoices"
	"github.com/angelmondragon/ledgerd/internal/payments"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/outbox"
	"github.com/angelmondragon/ledgerd/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type charger interface {
	Charge(ctx context.Context, input payments.ChargeInput) (*payments.ChargeResult, error)
}

// SubscribeInput starts a premium subscription whose first term is due now.
type SubscribeInput struct {
	UserID       uuid.UUID
	Amount       decimal.Decimal
	Currency     enums.Currency
	PaymentToken string
	StartsAt     time.Time
}

// RenewalOutcome is what happened to one subscription in a renewal run.
type RenewalOutcome string

const (
	RenewalPaid    RenewalOutcome = "paid"
	RenewalFailed  RenewalOutcome = "failed"
	RenewalPending RenewalOutcome = "pending"
	RenewalNotDue  RenewalOutcome = "not_due"
)

// RenewalResult counts outcomes of RenewDue.
type RenewalResult struct {
	Paid    int
	Failed  int
	Pending int
	Voided  int64
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Invoices *invoices.Service
	Payments charger
	Outbox   outboxPublisher
	Config   config.BillingConfig
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service renews subscriptions.
type Service struct {
	repo     Repository
	tx       txRunner
	invoices *invoices.Service
	payments charger
	outbox   outboxPublisher
	term     time.Duration
	batch    int
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("repo is required")
	case params.Tx == nil:
		return nil, errors.New("tx runner is required")
	case params.Invoices == nil:
		return nil, errors.New("invoice service is required")
	case params.Payments == nil:
		return nil, errors.New("payment service is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox is required")
	}
	term := params.Config.TermLength
	if term <= 0 {
		term = 30 * 24 * time.Hour
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		tx:       params.Tx,
		invoices: params.Invoices,
		payments: params.Payments,
		outbox:   params.Outbox,
		term:     term,
		batch:    params.Config.RenewalBatchSize,
		logg:     params.Logger,
		now:      params.Now,
	}, nil
}

// Subscribe stores a new active subscription.
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) (*models.Subscription, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid currency %q", input.Currency)
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "subscription amount %s must be positive", input.Amount)
	}
	if input.PaymentToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment token required")
	}
	starts := input.StartsAt
	if starts.IsZero() {
		starts = s.now()
	}
	sub := &models.Subscription{
		UserID:           input.UserID,
		Status:           enums.SubscriptionActive,
		Amount:           input.Amount,
		Currency:         input.Currency,
		PaymentToken:     input.PaymentToken,
		CurrentPeriodEnd: starts.UTC(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
	}
	return sub, nil
}

// Cancel stops future renewals.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := load(ctx, repo, id, true)
		if err != nil {
			return err
		}
		if sub.Status == enums.SubscriptionCanceled {
			return nil
		}
		return repo.UpdateFields(ctx, id, map[string]any{"status": enums.SubscriptionCanceled, "canceled_at": s.now()})
	})
}

// RenewDue voids expired renewal invoices, then renews every due
// subscription. Running it twice in one period charges nobody twice: paid
// subscriptions are no longer due.
func (s *Service) RenewDue(ctx context.Context) (RenewalResult, error) {
	var result RenewalResult
	voided, err := s.invoices.VoidExpired(ctx)
	if err != nil {
		return result, err
	}
	result.Voided = voided

	due, err := s.repo.ListDue(ctx, s.now(), s.batch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list due subscriptions")
	}
	var errs error
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		outcome, err := s.Renew(ctx, sub.ID)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		switch outcome {
		case RenewalPaid:
			result.Paid++
		case RenewalFailed:
			result.Failed++
		case RenewalPending:
			result.Pending++
		}
	}
	return result, errs
}

// Renew bills one subscription term. The open invoice from an earlier failed
// attempt is reused so a term is never invoiced twice.
func (s *Service) Renew(ctx context.Context, id uuid.UUID) (RenewalOutcome, error) {
	ctx = s.logg.WithField(ctx, "subscription_id", id.String())
	sub, err := load(ctx, s.repo, id, false)
	if err != nil {
		return "", err
	}
	if sub.Status == enums.SubscriptionCanceled || sub.CurrentPeriodEnd.After(s.now()) {
		return RenewalNotDue, nil
	}

	invoice, err := s.invoices.OpenForSubscription(ctx, sub.ID)
	if err != nil {
		return "", err
	}
	if invoice == nil {
		expires := sub.CurrentPeriodEnd.Add(s.term)
		invoice, err = s.invoices.Create(ctx, invoices.CreateInput{
			Type:           enums.InvoiceTypeSubscription,
			Currency:       sub.Currency,
			BillToID:       &sub.UserID,
			SubscriptionID: &sub.ID,
			ExpiresOn:      &expires,
			Open:           true,
			LineItems: []invoices.LineItemInput{{
				Type:        enums.LineItemPremiumSubscription,
				Amount:      sub.Amount,
				Description: "premium subscription",
			}},
		})
		if err != nil {
			return "", err
		}
	}
	ctx = s.logg.WithInvoiceID(ctx, invoice.ID.String())

	charge, err := s.payments.Charge(ctx, payments.ChargeInput{InvoiceID: invoice.ID, PaymentToken: sub.PaymentToken})
	if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
		s.logg.Info(ctx, "renewal charge still in flight")
		return RenewalPending, nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case charge.Pending:
		s.logg.Info(ctx, "renewal charge pending")
		return RenewalPending, nil
	case charge.Succeeded():
		return RenewalPaid, s.markRenewed(ctx, sub)
	default:
		reason := ""
		if len(charge.Records) > 0 {
			reason = charge.Records[0].ResponseMessage
		}
		return RenewalFailed, s.markFailed(ctx, sub, invoice.ID, reason)
	}
}

func (s *Service) markRenewed(ctx context.Context, sub *models.Subscription) error {
	next := sub.CurrentPeriodEnd.Add(s.term)
	err := s.repo.UpdateFields(ctx, sub.ID, map[string]any{
		"status":             enums.SubscriptionActive,
		"current_period_end": next,
		"failed_attempts":    0,
		"last_failure":       nil,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extend subscription")
	}
	s.logg.Info(s.logg.WithField(ctx, "period_end", next), "subscription renewed")
	return nil
}

func (s *Service) markFailed(ctx context.Context, sub *models.Subscription, invoiceID uuid.UUID, reason string) error {
	attempts := sub.FailedAttempts + 1
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		fields := map[string]any{
			"status":          enums.SubscriptionPastDue,
			"failed_attempts": attempts,
			"last_failure":    reason,
		}
		if err := s.repo.WithTx(tx).UpdateFields(ctx, sub.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark subscription past due")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRenewalFailed,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Data: payloads.RenewalFailedEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				InvoiceID:      &invoiceID,
				FailedAttempts: attempts,
				Reason:         reason,
			},
		})
	})
	if err != nil {
		return err
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"failed_attempts": attempts, "reason": reason}), "subscription renewal failed")
	return nil
}

func load(ctx context.Context, repo Repository, id uuid.UUID, forUpdate bool) (*models.Subscription, error) {
	sub, err := repo.FindByID(ctx, id, forUpdate)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "subscription %s not found", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	return sub, nil
}
