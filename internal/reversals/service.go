// Package reversals undoes successful transactions and issues card refunds.
package reversals

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/accounts"
	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/config"
	dbpkg "github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
	"github.com/angelmondragon/ledgerd/pkg/money"
	"github.com/angelmondragon/ledgerd/pkg/outbox"
	"github.com/angelmondragon/ledgerd/pkg/outbox/payloads"
)

const reversalConstraint = "ux_transaction_records_reversal_of"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// reversalCategories renames categories whose inverse has its own name.
var reversalCategories = map[enums.TransactionCategory]enums.TransactionCategory{
	enums.CategoryCashWithdrawal: enums.CategoryPayoutReversal,
	enums.CategoryEscrowHold:     enums.CategoryEscrowRefund,
	enums.CategoryFunding:        enums.CategoryThirdPartyRefund,
	enums.CategoryCashDeposit:    enums.CategoryThirdPartyRefund,
}

// upstreamCategories says which records feed the source account of a record
// in the chain from card charge to payout.
var upstreamCategories = map[enums.TransactionCategory][]enums.TransactionCategory{
	enums.CategoryCashWithdrawal: {enums.CategoryEscrowRelease},
	enums.CategoryEscrowRelease:  {enums.CategoryEscrowHold},
	enums.CategoryEscrowHold:     {enums.CategoryFunding, enums.CategoryCashDeposit},
}

// Result is one reversal and whether this call created it.
type Result struct {
	Original *models.TransactionRecord
	Reversal *models.TransactionRecord
	IsNew    bool
}

// ConfirmInput settles a reversal that moves money through a gateway.
type ConfirmInput struct {
	Success   bool
	RemoteIDs []string
	Message   string
}

// RefundInput refunds part or all of a card funding record.
type RefundInput struct {
	FundTransactionID uuid.UUID
	// Amount defaults to whatever has not been refunded yet.
	Amount money.Money
	// Category defaults to third_party_refund.
	Category enums.TransactionCategory
	// Related are internal records reversed once the gateway confirms, so
	// the money refunded leaves FUND as it came in.
	Related  []uuid.UUID
	Provider enums.GatewayProvider
}

// RefundResult is the refund record and any related reversals.
type RefundResult struct {
	Refund    *models.TransactionRecord
	Reversals []Result
}

// Succeeded reports whether the gateway accepted the refund.
func (r *RefundResult) Succeeded() bool {
	return r != nil && r.Refund != nil && r.Refund.Status == enums.TransactionSuccess
}

// ServiceParams wires the reversal service.
type ServiceParams struct {
	Tx       txRunner
	Ledger   ledger.Service
	Outbox   outboxPublisher
	Gateways *gateway.Registry
	Retry    config.RetryConfig
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
}

// Service synthesizes inverse transactions.
type Service struct {
	tx       txRunner
	ledger   ledger.Service
	outbox   outboxPublisher
	gateways *gateway.Registry
	retry    config.RetryConfig
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
}

// NewService builds the reversal service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		tx:       params.Tx,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		gateways: params.Gateways,
		retry:    params.Retry,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Reverse creates the inverse of a successful record, or returns the one
// that already exists. Reversals touching an external account stay
// unconfirmed until Confirm; internal ones are settled immediately.
func (s *Service) Reverse(ctx context.Context, recordID uuid.UUID) (*Result, error) {
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.reverse(ctx, s.ledger.WithTx(tx), recordID)
		return err
	})
	if err != nil {
		return s.resolveRace(ctx, recordID, err)
	}
	s.observe(ctx, result)
	return result, nil
}

// ReverseChain reverses a record and walks upstream through the records that
// funded its source account for the same targets: a payout, the escrow
// release before it, the hold, down to the card charge. Everything happens in
// one transaction; the returned slice starts with the record asked for.
func (s *Service) ReverseChain(ctx context.Context, recordID uuid.UUID) ([]Result, error) {
	var results []Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)
		visited := []uuid.UUID{}
		current := recordID
		for {
			res, err := s.reverse(ctx, led, current)
			if err != nil {
				return err
			}
			results = append(results, *res)
			visited = append(visited, res.Original.ID)

			next, err := upstreamOf(ctx, led, res.Original, visited)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}
			current = next.ID
		}
	})
	if err != nil {
		s.metrics.IncReversal("rejected")
		return nil, err
	}
	for i := range results {
		s.observe(ctx, &results[i])
	}
	return results, nil
}

// Confirm settles a reversal left unconfirmed by Reverse.
func (s *Service) Confirm(ctx context.Context, reversalID uuid.UUID, input ConfirmInput) (*models.TransactionRecord, error) {
	var out *models.TransactionRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)
		record, err := led.Get(ctx, reversalID, true)
		if err != nil {
			return err
		}
		if record.ReversalOfID == nil {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "transaction %s is not a reversal", reversalID)
		}
		out, err = led.Finalize(ctx, reversalID, ledger.FinalizeInput{Success: input.Success, RemoteIDs: input.RemoteIDs, Message: input.Message})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithTransactionID(ctx, reversalID.String()), map[string]any{"status": out.Status}), "reversal confirmed")
	return out, nil
}

func (s *Service) reverse(ctx context.Context, led ledger.Service, recordID uuid.UUID) (*Result, error) {
	original, err := led.Get(ctx, recordID, true)
	if err != nil {
		return nil, err
	}
	if original.Category == enums.CategoryCorrection || !accounts.IsReversible(original.Destination) {
		return nil, pkgerrors.Newf(pkgerrors.CodeUnsupportedSource, "no reversal path for %s %s -> %s", original.Category, original.Source, original.Destination)
	}
	if original.ReversalOfID != nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeUnsupportedSource, "transaction %s is itself a reversal", original.ID)
	}
	if original.Status != enums.TransactionSuccess || original.FinalizedOn == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeWrongStatus, "transaction %s is %s; only settled successes can be reversed", original.ID, original.Status)
	}

	existing, err := led.FindReversalOf(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{Original: original, Reversal: existing}, nil
	}

	category := original.Category
	if mapped, ok := reversalCategories[category]; ok {
		category = mapped
	}
	originalID := original.ID
	reversal, err := led.Record(ctx, ledger.RecordInput{
		Source:            original.Destination,
		Destination:       original.Source,
		Amount:            money.New(original.Amount, original.Currency),
		Category:          category,
		PayerID:           original.PayeeID,
		PayeeID:           original.PayerID,
		Targets:           ledger.TargetsOf(original),
		Status:            enums.TransactionFailure,
		ReversalOfID:      &originalID,
		AwaitConfirmation: true,
	})
	if err != nil {
		return nil, err
	}
	if !accounts.IsExternal(reversal.Source) && !accounts.IsExternal(reversal.Destination) {
		reversal, err = led.Finalize(ctx, reversal.ID, ledger.FinalizeInput{Success: true})
		if err != nil {
			return nil, err
		}
	}
	return &Result{Original: original, Reversal: reversal, IsNew: true}, nil
}

// resolveRace turns a lost insert race on the reversal link into the
// idempotent answer.
func (s *Service) resolveRace(ctx context.Context, recordID uuid.UUID, err error) (*Result, error) {
	if !dbpkg.IsUniqueViolation(err, reversalConstraint) {
		s.metrics.IncReversal("rejected")
		return nil, err
	}
	original, getErr := s.ledger.Get(ctx, recordID, false)
	if getErr != nil {
		return nil, getErr
	}
	existing, findErr := s.ledger.FindReversalOf(ctx, recordID)
	if findErr != nil || existing == nil {
		return nil, err
	}
	result := &Result{Original: original, Reversal: existing}
	s.observe(ctx, result)
	return result, nil
}

func (s *Service) observe(ctx context.Context, result *Result) {
	logCtx := s.logg.WithTransactionID(ctx, result.Original.ID.String())
	logCtx = s.logg.WithField(logCtx, "reversal_id", result.Reversal.ID.String())
	if result.IsNew {
		s.metrics.IncReversal("created")
		s.logg.Info(logCtx, "transaction reversed")
		return
	}
	s.metrics.IncReversal("existing")
	s.logg.Info(logCtx, "reversal already exists")
}

func upstreamOf(ctx context.Context, led ledger.Service, record *models.TransactionRecord, visited []uuid.UUID) (*models.TransactionRecord, error) {
	if accounts.IsExternal(record.Source) {
		return nil, nil
	}
	categories, ok := upstreamCategories[record.Category]
	if !ok {
		return nil, nil
	}
	targets := ledger.TargetsOf(record)
	if len(targets) == 0 {
		return nil, nil
	}
	createdBefore := record.CreatedOn
	q := ledger.Query{
		Targets:       targets,
		Categories:    categories,
		Destinations:  []enums.AccountType{record.Source},
		Statuses:      []enums.TransactionStatus{enums.TransactionSuccess},
		CreatedBefore: &createdBefore,
		ExcludeIDs:    visited,
		NewestFirst:   true,
		Limit:         1,
	}
	if accounts.IsUserOwned(record.Source) {
		q.PayeeID = record.PayerID
	}
	found, err := led.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// IssueRefund sends money from FUND back to the card a funding record drew
// from. A pending refund record reserves the amount while the gateway is
// called; a gateway decline finalizes it as a failure carrying a readable
// message and is returned without an error.
func (s *Service) IssueRefund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if s.gateways == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	provider := input.Provider
	if provider == "" {
		provider = enums.GatewayStripe
	}
	gw, err := s.gateways.For(provider)
	if err != nil {
		return nil, err
	}
	category := input.Category
	if category == "" {
		category = enums.CategoryThirdPartyRefund
	}
	ctx = s.logg.WithTransactionID(ctx, input.FundTransactionID.String())

	var (
		fund     *models.TransactionRecord
		pending  *models.TransactionRecord
		chargeID string
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)
		var err error
		fund, err = led.Get(ctx, input.FundTransactionID, true)
		if err != nil {
			return err
		}
		if fund.Source != enums.AccountCard || fund.Destination != enums.AccountFund {
			return pkgerrors.Newf(pkgerrors.CodeUnsupportedSource, "transaction %s is %s -> %s, not a card charge", fund.ID, fund.Source, fund.Destination)
		}
		if fund.Status != enums.TransactionSuccess {
			return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "transaction %s is %s", fund.ID, fund.Status)
		}
		if len(fund.RemoteIDs) == 0 {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "transaction %s has no gateway charge id", fund.ID)
		}
		chargeID = fund.RemoteIDs[0]
		if reversal, err := led.FindReversalOf(ctx, fund.ID); err != nil {
			return err
		} else if reversal != nil && reversal.Status != enums.TransactionFailure {
			return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "transaction %s was already reversed", fund.ID)
		}

		refunded, err := refundedAmount(ctx, led, fund, chargeID)
		if err != nil {
			return err
		}
		remaining, err := money.New(fund.Amount, fund.Currency).Sub(refunded)
		if err != nil {
			return err
		}
		amount := input.Amount
		if amount.Amount.IsZero() && amount.Currency == "" {
			amount = remaining
		}
		if !amount.IsPositive() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "refund amount %s must be positive", amount)
		}
		if cmp, err := amount.Cmp(remaining); err != nil {
			return err
		} else if cmp > 0 {
			return pkgerrors.Newf(pkgerrors.CodeInsufficientBalance, "refund %s exceeds the %s left on transaction %s", amount, remaining, fund.ID).
				WithDetails(map[string]any{"requested": amount.String(), "available": remaining.String()})
		}

		pending, err = led.Record(ctx, ledger.RecordInput{
			Source:      enums.AccountFund,
			Destination: enums.AccountCard,
			Amount:      amount,
			Category:    category,
			PayeeID:     fund.PayerID,
			Targets:     ledger.TargetsOf(fund),
			Status:      enums.TransactionPending,
			RemoteIDs:   []string{chargeID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	res, gwErr := gateway.Retry(ctx, s.retry, func(ctx context.Context) (gateway.Result, error) {
		return gw.Refund(ctx, gateway.RefundRequest{
			ChargeID:       chargeID,
			Amount:         money.New(pending.Amount, pending.Currency),
			IdempotencyKey: pending.ID.String(),
		})
	})
	if gwErr != nil {
		if !gateway.IsTransient(gwErr) {
			s.logg.Error(ctx, "refund rejected by gateway", gwErr)
		} else {
			s.logg.Error(ctx, "refund retries exhausted", gwErr)
		}
		res = gateway.Result{Status: gateway.StatusFailed, FailureCode: "processing_error", FailureMessage: gateway.HumanMessage("processing_error")}
	}
	if res.Status == gateway.StatusPending {
		if _, err := s.ledger.AppendRemoteIDs(ctx, pending.ID, res.RemoteIDs...); err != nil {
			return nil, err
		}
		return &RefundResult{Refund: pending}, nil
	}
	return s.settleRefund(ctx, fund, pending.ID, res, input.Related)
}

// SettleRefund applies a late gateway answer to a pending refund record.
func (s *Service) SettleRefund(ctx context.Context, refundID uuid.UUID, res gateway.Result) (*RefundResult, error) {
	record, err := s.ledger.Get(ctx, refundID, false)
	if err != nil {
		return nil, err
	}
	if record.Source != enums.AccountFund || record.Destination != enums.AccountCard {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "transaction %s is not a refund", refundID)
	}
	return s.settleRefund(ctx, nil, refundID, res, nil)
}

func (s *Service) settleRefund(ctx context.Context, fund *models.TransactionRecord, refundID uuid.UUID, res gateway.Result, related []uuid.UUID) (*RefundResult, error) {
	out := &RefundResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		led := s.ledger.WithTx(tx)
		refund, err := led.Finalize(ctx, refundID, ledger.FinalizeInput{
			Success:   res.Succeeded(),
			RemoteIDs: res.RemoteIDs,
			Message:   failureMessage(res),
		})
		if err != nil {
			return err
		}
		out.Refund = refund

		if refund.Status == enums.TransactionSuccess {
			for _, id := range related {
				rev, err := s.reverse(ctx, led, id)
				if err != nil {
					return err
				}
				out.Reversals = append(out.Reversals, *rev)
			}
		}
		if s.outbox == nil {
			return nil
		}
		fundID := uuid.Nil
		if fund != nil {
			fundID = fund.ID
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundIssued,
			AggregateType: enums.AggregateTransactionRecord,
			AggregateID:   refund.ID,
			Data: payloads.RefundIssuedEvent{
				TransactionID:     refund.ID,
				FundTransactionID: fundID,
				PayeeID:           refund.PayeeID,
				Amount:            refund.Amount.StringFixed(money.Digits(refund.Currency)),
				Currency:          refund.Currency.String(),
				Status:            string(refund.Status),
				Reason:            refund.ResponseMessage,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if out.Succeeded() {
		s.logg.Info(s.logg.WithField(ctx, "refund_id", refundID.String()), "refund issued")
	} else {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"refund_id": refundID.String(), "reason": out.Refund.ResponseMessage}), "refund failed")
	}
	return out, nil
}

func failureMessage(res gateway.Result) string {
	if res.Succeeded() {
		return ""
	}
	return res.Reason()
}

// refundedAmount sums refunds already succeeded or in flight for chargeID.
func refundedAmount(ctx context.Context, led ledger.Service, fund *models.TransactionRecord, chargeID string) (money.Money, error) {
	records, err := led.Find(ctx, ledger.Query{
		Targets:      ledger.TargetsOf(fund),
		Sources:      []enums.AccountType{enums.AccountFund},
		Destinations: []enums.AccountType{enums.AccountCard},
		Statuses:     []enums.TransactionStatus{enums.TransactionSuccess, enums.TransactionPending},
	})
	if err != nil {
		return money.Money{}, err
	}
	total := money.Zero(fund.Currency)
	for _, r := range records {
		if len(r.RemoteIDs) == 0 || r.RemoteIDs[0] != chargeID {
			continue
		}
		if total, err = total.Add(money.New(r.Amount, r.Currency)); err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}
