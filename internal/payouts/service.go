// Package payouts moves sellers' holdings to their bank accounts.
package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/deliverables"
	"github.com/angelmondragon/ledgerd/internal/gateway"
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

// Status is the outcome of one payout attempt.
type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
)

// Payout describes one transfer of holdings to a bank account.
type Payout struct {
	UserID         uuid.UUID
	Amount         money.Money
	Status         Status
	Records        []models.TransactionRecord
	DeliverableIDs []uuid.UUID
	RemoteID       string
	Reason         string
}

// SweepResult summarizes a payout sweep.
type SweepResult struct {
	Sent    int
	Failed  int
	Pending int
	Skipped int
}

// ServiceParams wires the payout service.
type ServiceParams struct {
	Tx           txRunner
	Ledger       ledger.Service
	Deliverables deliverables.Repository
	Preferences  PreferenceRepository
	Outbox       outboxPublisher
	Gateways     *gateway.Registry
	Config       config.PayoutConfig
	Retry        config.RetryConfig
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Service pays out holdings.
type Service struct {
	tx           txRunner
	ledger       ledger.Service
	deliverables deliverables.Repository
	preferences  PreferenceRepository
	outbox       outboxPublisher
	gateways     *gateway.Registry
	minimum      money.Money
	batchSize    int
	retry        config.RetryConfig
	metrics      *metrics.LedgerMetrics
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the payout service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	case params.Deliverables == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deliverable repository required")
	case params.Preferences == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "preference repository required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	case params.Gateways == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	minimum, err := params.Config.Minimum()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payout minimum")
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
		deliverables: params.Deliverables,
		preferences:  params.Preferences,
		outbox:       params.Outbox,
		gateways:     params.Gateways,
		minimum:      money.New(minimum, ""),
		batchSize:    params.Config.BatchSize,
		retry:        params.Retry,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          params.Now,
	}, nil
}

// WithdrawAll pays out the user's whole available holdings. Disabled
// preferences, empty balances and balances under the minimum are skipped
// without an error.
func (s *Service) WithdrawAll(ctx context.Context, userID uuid.UUID) (*Payout, error) {
	return s.payout(ctx, userID, nil)
}

// Withdraw pays out a specific amount and fails with InsufficientBalance,
// before any ledger write, when the locked balance cannot cover it.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount money.Money) (*Payout, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "withdrawal amount %s must be positive", amount)
	}
	return s.payout(ctx, userID, &amount)
}

// Sweep runs WithdrawAll for every seller with completed, unpaid work. One
// seller's failure does not stop the sweep.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	sellers, err := s.deliverables.SellersAwaitingPayout(ctx, s.batchSize)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list sellers awaiting payout")
	}
	var errs error
	for _, seller := range sellers {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		p, err := s.WithdrawAll(ctx, seller)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		switch p.Status {
		case StatusSent:
			result.Sent++
		case StatusPending:
			result.Pending++
		case StatusFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}
	return result, errs
}

func (s *Service) payout(ctx context.Context, userID uuid.UUID, requested *money.Money) (*Payout, error) {
	ctx = s.logg.WithUserID(ctx, userID.String())
	p := &Payout{UserID: userID}
	var pref *models.PayoutPreference

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)
		dels := s.deliverables.WithTx(tx)

		var err error
		pref, err = s.preferences.WithTx(tx).Get(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout preference")
		}
		if pref == nil || !pref.Enabled {
			if requested != nil {
				return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payouts are disabled for user %s", userID)
			}
			p.Status, p.Reason = StatusSkipped, "payouts disabled"
			return nil
		}
		currency := pref.Currency
		if currency == "" {
			currency = enums.CurrencyUSD
		}

		// Held until commit so a concurrent withdrawal sees this one's records.
		if err := led.LockEntity(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock user balance")
		}
		available, err := led.AvailableBalance(ctx, userID, enums.AccountHoldings, currency)
		if err != nil {
			return err
		}

		amount := available
		if requested != nil {
			if requested.Currency != currency {
				return money.ErrInvalidCurrencyOperation(requested.Currency, currency)
			}
			if cmp, _ := requested.Cmp(available); cmp > 0 {
				return pkgerrors.Newf(pkgerrors.CodeInsufficientBalance, "withdrawal of %s exceeds available balance %s", requested, available).
					WithDetails(map[string]any{"requested": requested.String(), "available": available.String()})
			}
			amount = *requested
		}
		p.Amount = amount
		if !amount.IsPositive() {
			p.Status, p.Reason = StatusSkipped, "no available balance"
			return nil
		}
		if amount.Amount.LessThan(s.minimum.Amount) {
			if requested != nil {
				return pkgerrors.Newf(pkgerrors.CodeValidation, "withdrawal of %s is below the %s minimum", amount, s.minimum.Amount)
			}
			p.Status, p.Reason = StatusSkipped, "below payout minimum"
			return nil
		}

		records, attributed, err := s.attribute(ctx, led, dels, userID, amount)
		if err != nil {
			return err
		}
		if err := dels.SetPayoutSent(ctx, attributed, true, ptrTime(s.now())); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark deliverables paid out")
		}
		p.Records = records
		p.DeliverableIDs = attributed
		return nil
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInsufficientBalance) {
			s.metrics.IncPayout("rejected")
		}
		return nil, err
	}
	if p.Status == StatusSkipped {
		s.metrics.IncPayout("skipped")
		s.logg.Info(s.logg.WithField(ctx, "reason", p.Reason), "payout skipped")
		return p, nil
	}

	return s.transfer(ctx, pref, p)
}

// attribute splits amount over the user's unpaid deliverables, oldest
// first, using what each one actually put into holdings. Whatever cannot be
// attributed exactly becomes one unattributed record.
func (s *Service) attribute(ctx context.Context, led ledger.Service, dels deliverables.Repository, userID uuid.UUID, amount money.Money) ([]models.TransactionRecord, []uuid.UUID, error) {
	unpaid, err := dels.ListUnpaid(ctx, userID, 0)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unpaid deliverables")
	}

	payer := userID
	remaining := amount
	var (
		records    []models.TransactionRecord
		attributed []uuid.UUID
	)
	for _, d := range unpaid {
		if d.Currency != amount.Currency {
			continue
		}
		contribution, err := contributionOf(ctx, led, userID, d)
		if err != nil {
			return nil, nil, err
		}
		if !contribution.IsPositive() {
			continue
		}
		if cmp, _ := contribution.Cmp(remaining); cmp > 0 {
			break
		}
		rec, err := led.Record(ctx, ledger.RecordInput{
			Amount:   contribution,
			Category: enums.CategoryCashWithdrawal,
			PayerID:  &payer,
			PayeeID:  &payer,
			Targets:  []ledger.Target{ledger.DeliverableTarget(d.ID)},
			Status:   enums.TransactionPending,
		})
		if err != nil {
			return nil, nil, err
		}
		records = append(records, *rec)
		attributed = append(attributed, d.ID)
		if remaining, err = remaining.Sub(contribution); err != nil {
			return nil, nil, err
		}
	}

	if remaining.IsPositive() {
		rec, err := led.Record(ctx, ledger.RecordInput{
			Amount:       remaining,
			Category:     enums.CategoryCashWithdrawal,
			PayerID:      &payer,
			PayeeID:      &payer,
			Status:       enums.TransactionPending,
			Unattributed: true,
		})
		if err != nil {
			return nil, nil, err
		}
		records = append(records, *rec)
	}
	return records, attributed, nil
}

// contributionOf is what a deliverable put into the seller's holdings, or
// its nominal amount when nothing was recorded against it.
func contributionOf(ctx context.Context, led ledger.Service, userID uuid.UUID, d models.Deliverable) (money.Money, error) {
	inflows, err := led.Find(ctx, ledger.Query{
		Targets:      []ledger.Target{ledger.DeliverableTarget(d.ID)},
		Destinations: []enums.AccountType{enums.AccountHoldings},
		Statuses:     []enums.TransactionStatus{enums.TransactionSuccess},
		PayeeID:      &userID,
		NotReversed:  true,
	})
	if err != nil {
		return money.Money{}, err
	}
	if len(inflows) == 0 {
		return money.New(d.Amount, d.Currency), nil
	}
	total := money.Zero(d.Currency)
	for _, r := range inflows {
		if r.Currency != d.Currency {
			continue
		}
		if total, err = total.Add(money.New(r.Amount, r.Currency)); err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

func (s *Service) transfer(ctx context.Context, pref *models.PayoutPreference, p *Payout) (*Payout, error) {
	provider := pref.Gateway
	if provider == "" {
		provider = enums.GatewayStripe
	}
	var res gateway.Result
	gw, err := s.gateways.For(provider)
	if err == nil {
		res, err = gateway.Retry(ctx, s.retry, func(ctx context.Context) (gateway.Result, error) {
			return gw.Transfer(ctx, gateway.TransferRequest{
				Destination:    pref.DestinationToken,
				Amount:         p.Amount,
				IdempotencyKey: p.Records[0].ID.String(),
				Metadata:       map[string]string{"user_id": p.UserID.String()},
			})
		})
	}
	if err != nil {
		s.logg.Error(ctx, "payout transfer failed", err)
		res = gateway.Result{Status: gateway.StatusFailed, FailureCode: "processing_error", FailureMessage: gateway.HumanMessage("processing_error")}
	}
	p.RemoteID = res.ID

	if res.Status == gateway.StatusPending {
		for _, rec := range p.Records {
			if _, err := s.ledger.AppendRemoteIDs(ctx, rec.ID, res.RemoteIDs...); err != nil {
				return nil, err
			}
		}
		p.Status = StatusPending
		s.metrics.IncPayout("pending")
		return p, nil
	}
	return s.settle(ctx, p, res)
}

// Settle applies a late transfer outcome to a pending payout's records.
func (s *Service) Settle(ctx context.Context, userID uuid.UUID, recordIDs []uuid.UUID, res gateway.Result) (*Payout, error) {
	p := &Payout{UserID: userID, RemoteID: res.ID}
	records, err := s.ledger.Find(ctx, ledger.Query{IDs: recordIDs, Statuses: []enums.TransactionStatus{enums.TransactionPending}})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending payout records")
	}
	total := money.Zero(records[0].Currency)
	for _, r := range records {
		if r.Category != enums.CategoryCashWithdrawal || r.PayerID == nil || *r.PayerID != userID {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "transaction %s is not a payout for user %s", r.ID, userID)
		}
		if total, err = total.Add(money.New(r.Amount, r.Currency)); err != nil {
			return nil, err
		}
		for _, t := range ledger.TargetsOf(&r) {
			if t.ContentType == ledger.TargetDeliverable {
				if id, err := uuid.Parse(t.ObjectID); err == nil {
					p.DeliverableIDs = append(p.DeliverableIDs, id)
				}
			}
		}
	}
	p.Records = records
	p.Amount = total
	return s.settle(ctx, p, res)
}

func (s *Service) settle(ctx context.Context, p *Payout, res gateway.Result) (*Payout, error) {
	success := res.Succeeded()
	message := res.Reason()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)
		for i, rec := range p.Records {
			finalized, err := led.Finalize(ctx, rec.ID, ledger.FinalizeInput{Success: success, RemoteIDs: res.RemoteIDs, Message: message})
			if err != nil {
				return err
			}
			p.Records[i] = *finalized
		}
		eventType := enums.EventPayoutSent
		if !success {
			eventType = enums.EventPayoutFailed
			if err := s.deliverables.WithTx(tx).SetPayoutSent(ctx, p.DeliverableIDs, false, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reset deliverables")
			}
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePayout,
			AggregateID:   p.Records[0].ID,
			Data:          payoutEvent(p, message),
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"amount": p.Amount.String(), "records": len(p.Records)})
	if success {
		p.Status = StatusSent
		s.metrics.IncPayout("sent")
		s.logg.Info(logCtx, "payout sent")
	} else {
		p.Status, p.Reason = StatusFailed, message
		s.metrics.IncPayout("failed")
		s.logg.Warn(s.logg.WithField(logCtx, "reason", message), "payout failed")
	}
	return p, nil
}

func payoutEvent(p *Payout, reason string) payloads.PayoutEvent {
	ids := make([]uuid.UUID, 0, len(p.Records))
	for _, r := range p.Records {
		ids = append(ids, r.ID)
	}
	return payloads.PayoutEvent{
		UserID:         p.UserID,
		Amount:         p.Amount.Amount.StringFixed(money.Digits(p.Amount.Currency)),
		Currency:       p.Amount.Currency.String(),
		TransactionIDs: ids,
		DeliverableIDs: p.DeliverableIDs,
		RemoteID:       p.RemoteID,
		Reason:         reason,
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
