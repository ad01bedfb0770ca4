package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/accounts"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// Service records money movements and answers balance questions. Balances
// are always aggregated from records; nothing stores a running total.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordInput) (*models.TransactionRecord, error)
	Get(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.TransactionRecord, error)
	Find(ctx context.Context, q Query) ([]models.TransactionRecord, error)
	FindReversalOf(ctx context.Context, id uuid.UUID) (*models.TransactionRecord, error)
	Balance(ctx context.Context, q BalanceQuery) (money.Money, error)
	AvailableBalance(ctx context.Context, entity uuid.UUID, account enums.AccountType, currency enums.Currency) (money.Money, error)
	Finalize(ctx context.Context, id uuid.UUID, input FinalizeInput) (*models.TransactionRecord, error)
	AppendRemoteIDs(ctx context.Context, id uuid.UUID, remoteIDs ...string) (*models.TransactionRecord, error)
	CheckConservation(ctx context.Context) ([]Imbalance, error)
	BonusAmount(ctx context.Context, targets []Target, currency enums.Currency) (money.Money, error)
	LockEntity(ctx context.Context, entity uuid.UUID) error
	Registry() *TargetRegistry
}

// RecordInput describes a new ledger entry. Source and Destination may be
// left empty to use the category's default route.
type RecordInput struct {
	Source          enums.AccountType
	Destination     enums.AccountType
	Amount          money.Money
	Category        enums.TransactionCategory
	PayerID         *uuid.UUID
	PayeeID         *uuid.UUID
	Targets         []Target
	Status          enums.TransactionStatus
	RemoteIDs       []string
	ResponseMessage string
	CardID          *string
	AuthCode        *string
	ReversalOfID    *uuid.UUID
	Unattributed    bool
	// AwaitConfirmation leaves a failure record unfinalized so a later
	// gateway confirmation can still finalize it.
	AwaitConfirmation bool
}

// FinalizeInput settles a pending or unconfirmed record.
type FinalizeInput struct {
	Success   bool
	RemoteIDs []string
	Message   string
}

// BalanceQuery selects the records summed by Balance. A nil Entity means the platform.
type BalanceQuery struct {
	Entity   *uuid.UUID
	Account  enums.AccountType
	Filter   enums.BalanceFilter
	Currency enums.Currency
}

// Imbalance is a pass-through account whose successful inflow and outflow differ.
type Imbalance struct {
	Account  enums.AccountType
	Currency enums.Currency
	Inflow   decimal.Decimal
	Outflow  decimal.Decimal
}

// Difference is inflow minus outflow.
func (i Imbalance) Difference() decimal.Decimal {
	return i.Inflow.Sub(i.Outflow)
}

func (i Imbalance) String() string {
	return fmt.Sprintf("%s %s: in %s out %s", i.Account, i.Currency, i.Inflow, i.Outflow)
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repo            Repository
	Registry        *TargetRegistry
	Metrics         *metrics.LedgerMetrics
	Logger          *logger.Logger
	DefaultCurrency enums.Currency
	Now             func() time.Time
}

type service struct {
	repo            Repository
	registry        *TargetRegistry
	metrics         *metrics.LedgerMetrics
	logg            *logger.Logger
	defaultCurrency enums.Currency
	now             func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Registry == nil {
		params.Registry = NewTargetRegistry()
	}
	if params.DefaultCurrency == "" {
		params.DefaultCurrency = enums.CurrencyUSD
	}
	if !params.DefaultCurrency.IsValid() {
		return nil, fmt.Errorf("invalid default currency %q", params.DefaultCurrency)
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:            params.Repo,
		registry:        params.Registry,
		metrics:         params.Metrics,
		logg:            params.Logger,
		defaultCurrency: params.DefaultCurrency,
		now:             params.Now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

func (s *service) Registry() *TargetRegistry {
	return s.registry
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.TransactionRecord, error) {
	route, err := accounts.Resolve(input.Category, input.Source, input.Destination)
	if err != nil {
		return nil, err
	}
	if !input.Amount.Currency.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid currency %q", input.Amount.Currency)
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "amount %s must not be negative; direction is source to destination", input.Amount)
	}
	status := input.Status
	if status == "" {
		status = enums.TransactionPending
	}
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", status)
	}

	targets := NormalizeTargets(input.Targets)
	for _, t := range targets {
		if !s.registry.Known(t.ContentType) {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown target content type %q", t.ContentType)
		}
	}

	if input.PayerID != nil && accounts.IsUserOwned(route.Source) {
		if err := s.repo.LockEntity(ctx, *input.PayerID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payer balance")
		}
	}

	record := &models.TransactionRecord{
		Status:          status,
		Category:        input.Category,
		Source:          route.Source,
		Destination:     route.Destination,
		Amount:          input.Amount.Amount,
		Currency:        input.Amount.Currency,
		PayerID:         input.PayerID,
		PayeeID:         input.PayeeID,
		RemoteIDs:       datatypes.JSONSlice[string](mergeRemoteIDs(nil, input.RemoteIDs)),
		ResponseMessage: input.ResponseMessage,
		CardID:          input.CardID,
		AuthCode:        input.AuthCode,
		ReversalOfID:    input.ReversalOfID,
		Unattributed:    input.Unattributed,
	}
	if status.IsTerminal() && !input.AwaitConfirmation {
		finalized := s.now()
		record.FinalizedOn = &finalized
	}

	if err := s.repo.Create(ctx, record, targets); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create transaction record")
	}
	s.metrics.IncRecord(string(record.Category), string(record.Status))
	if s.logg != nil {
		logCtx := s.logg.WithTransactionID(ctx, record.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"category":    record.Category,
			"source":      record.Source,
			"destination": record.Destination,
			"amount":      record.Amount.String(),
			"status":      record.Status,
		})
		s.logg.Info(logCtx, "transaction recorded")
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.TransactionRecord, error) {
	record, err := s.repo.FindByID(ctx, id, forUpdate)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction record")
	}
	return record, nil
}

func (s *service) Find(ctx context.Context, q Query) ([]models.TransactionRecord, error) {
	q.Targets = NormalizeTargets(q.Targets)
	records, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "query transaction records")
	}
	return records, nil
}

func (s *service) FindReversalOf(ctx context.Context, id uuid.UUID) (*models.TransactionRecord, error) {
	record, err := s.repo.FindReversalOf(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup reversal")
	}
	return record, nil
}

// Balance is inflow to the account for the entity minus outflow, over the
// statuses selected by the filter.
func (s *service) Balance(ctx context.Context, q BalanceQuery) (money.Money, error) {
	currency := q.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	statuses := q.Filter.Statuses()
	inflow, err := s.repo.Sum(ctx, SumQuery{Side: SideDestination, Account: q.Account, Entity: q.Entity, Statuses: statuses, Currency: currency})
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum inflow")
	}
	outflow, err := s.repo.Sum(ctx, SumQuery{Side: SideSource, Account: q.Account, Entity: q.Entity, Statuses: statuses, Currency: currency})
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum outflow")
	}
	return money.New(inflow.Sub(outflow), currency), nil
}

// AvailableBalance counts only settled inflow but subtracts pending outflow
// too, so money already promised to an in-flight transfer cannot be spent twice.
func (s *service) AvailableBalance(ctx context.Context, entity uuid.UUID, account enums.AccountType, currency enums.Currency) (money.Money, error) {
	if currency == "" {
		currency = s.defaultCurrency
	}
	inflow, err := s.repo.Sum(ctx, SumQuery{
		Side: SideDestination, Account: account, Entity: &entity,
		Statuses: enums.BalanceSuccess.Statuses(), Currency: currency,
	})
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum inflow")
	}
	outflow, err := s.repo.Sum(ctx, SumQuery{
		Side: SideSource, Account: account, Entity: &entity,
		Statuses: enums.BalanceSuccessOrPending.Statuses(), Currency: currency,
	})
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum outflow")
	}
	return money.New(inflow.Sub(outflow), currency), nil
}

func (s *service) Finalize(ctx context.Context, id uuid.UUID, input FinalizeInput) (*models.TransactionRecord, error) {
	record, err := s.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if record.FinalizedOn != nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeWrongStatus, "transaction %s is already finalized as %s", id, record.Status)
	}

	status := enums.TransactionFailure
	if input.Success {
		status = enums.TransactionSuccess
	}
	remoteIDs := mergeRemoteIDs([]string(record.RemoteIDs), input.RemoteIDs)
	var message *string
	if input.Message != "" {
		message = &input.Message
	}
	at := s.now()

	affected, err := s.repo.MarkFinalized(ctx, id, status, at, remoteIDs, message)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize transaction record")
	}
	if affected == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeWrongStatus, "transaction %s was finalized concurrently", id)
	}

	record.Status = status
	record.FinalizedOn = &at
	record.RemoteIDs = datatypes.JSONSlice[string](remoteIDs)
	if message != nil {
		record.ResponseMessage = *message
	}
	s.metrics.IncRecord(string(record.Category), string(status))
	return record, nil
}

// AppendRemoteIDs is the one mutation allowed on finalized records.
func (s *service) AppendRemoteIDs(ctx context.Context, id uuid.UUID, remoteIDs ...string) (*models.TransactionRecord, error) {
	record, err := s.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	merged := mergeRemoteIDs([]string(record.RemoteIDs), remoteIDs)
	if len(merged) == len(record.RemoteIDs) {
		return record, nil
	}
	if err := s.repo.SetRemoteIDs(ctx, id, merged); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append remote ids")
	}
	record.RemoteIDs = datatypes.JSONSlice[string](merged)
	return record, nil
}

func (s *service) CheckConservation(ctx context.Context) ([]Imbalance, error) {
	success := enums.BalanceSuccess.Statuses()
	var out []Imbalance
	for _, account := range accounts.PassThroughAccounts() {
		inflows, err := s.repo.TotalsByCurrency(ctx, SideDestination, account, success)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum pass-through inflow")
		}
		outflows, err := s.repo.TotalsByCurrency(ctx, SideSource, account, success)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum pass-through outflow")
		}

		totals := map[enums.Currency]*Imbalance{}
		var order []enums.Currency
		get := func(c enums.Currency) *Imbalance {
			if row, ok := totals[c]; ok {
				return row
			}
			row := &Imbalance{Account: account, Currency: c, Inflow: decimal.Zero, Outflow: decimal.Zero}
			totals[c] = row
			order = append(order, c)
			return row
		}
		for _, row := range inflows {
			get(row.Currency).Inflow = row.Total
		}
		for _, row := range outflows {
			get(row.Currency).Outflow = row.Total
		}
		for _, c := range order {
			if row := totals[c]; !row.Inflow.Equal(row.Outflow) {
				out = append(out, *row)
			}
		}
	}
	return out, nil
}

// BonusAmount returns the premium bonus paid for targets. Bonuses are
// recorded as their own premium_bonus records; for older data where the bonus
// was folded into the escrow release, it is the release minus the hold.
func (s *service) BonusAmount(ctx context.Context, targets []Target, currency enums.Currency) (money.Money, error) {
	if currency == "" {
		currency = s.defaultCurrency
	}
	success := enums.BalanceSuccess.Statuses()
	bonuses, err := s.Find(ctx, Query{
		Targets:     targets,
		Categories:  []enums.TransactionCategory{enums.CategoryPremiumBonus},
		Statuses:    success,
		NotReversed: true,
	})
	if err != nil {
		return money.Money{}, err
	}
	if len(bonuses) > 0 {
		return sumAmounts(bonuses, currency), nil
	}

	releases, err := s.Find(ctx, Query{
		Targets:     targets,
		Categories:  []enums.TransactionCategory{enums.CategoryEscrowRelease},
		Statuses:    success,
		NotReversed: true,
	})
	if err != nil {
		return money.Money{}, err
	}
	holds, err := s.Find(ctx, Query{
		Targets:     targets,
		Categories:  []enums.TransactionCategory{enums.CategoryEscrowHold},
		Statuses:    success,
		NotReversed: true,
	})
	if err != nil {
		return money.Money{}, err
	}
	diff := sumAmounts(releases, currency).Amount.Sub(sumAmounts(holds, currency).Amount)
	if diff.IsNegative() {
		diff = decimal.Zero
	}
	return money.New(diff, currency), nil
}

func (s *service) LockEntity(ctx context.Context, entity uuid.UUID) error {
	if err := s.repo.LockEntity(ctx, entity); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock entity balance")
	}
	return nil
}

func sumAmounts(records []models.TransactionRecord, currency enums.Currency) money.Money {
	total := decimal.Zero
	for _, r := range records {
		if r.Currency == currency {
			total = total.Add(r.Amount)
		}
	}
	return money.New(total, currency)
}

// mergeRemoteIDs appends incoming ids that are not already present, keeping
// first-seen order.
func mergeRemoteIDs(existing []string, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
