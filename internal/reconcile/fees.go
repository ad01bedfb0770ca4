// Package reconcile backfills settlement ids the gateway assigned after a
// card record was finalized.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

const (
	balanceTransactionPrefix = "txn_"
	defaultLimit             = 500
)

var chargePrefixes = []string{"ch_", "py_"}

type recordStore interface {
	Find(ctx context.Context, q ledger.Query) ([]models.TransactionRecord, error)
	AppendRemoteIDs(ctx context.Context, id uuid.UUID, remoteIDs ...string) (*models.TransactionRecord, error)
}

// FeeOptions narrows a reconciliation run.
type FeeOptions struct {
	Since  time.Time
	Limit  int
	DryRun bool
}

// FeeReport counts what a run did.
type FeeReport struct {
	Scanned  int
	Updated  int
	Missing  int
	Complete int
}

// FeeReconciler appends balance-transaction ids to card records whose
// remote ids only name the charge.
type FeeReconciler struct {
	records recordStore
	fees    gateway.FeeLookup
	logg    *logger.Logger
}

func NewFeeReconciler(records recordStore, fees gateway.FeeLookup, logg *logger.Logger) (*FeeReconciler, error) {
	if records == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if fees == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway does not expose settlement lookups")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &FeeReconciler{records: records, fees: fees, logg: logg}, nil
}

// Run scans successful card records finalized after opts.Since. Lookup
// failures are collected and the scan continues.
func (r *FeeReconciler) Run(ctx context.Context, opts FeeOptions) (FeeReport, error) {
	var report FeeReport
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q := ledger.Query{
		Statuses: []enums.TransactionStatus{enums.TransactionSuccess},
		Sources:  []enums.AccountType{enums.AccountCard},
		Limit:    limit,
	}
	if !opts.Since.IsZero() {
		since := opts.Since
		q.FinalizedAfter = &since
	}
	records, err := r.records.Find(ctx, q)
	if err != nil {
		return report, err
	}

	var errs error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		report.Scanned++
		chargeID, settled := inspect(rec.RemoteIDs)
		if settled || chargeID == "" {
			report.Complete++
			continue
		}
		recCtx := r.logg.WithFields(ctx, map[string]any{"transaction_id": rec.ID.String(), "charge_id": chargeID})
		txnID, err := r.fees.BalanceTransactionID(recCtx, chargeID)
		if err != nil {
			errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeOf(err), err, "lookup settlement for "+rec.ID.String()))
			continue
		}
		if txnID == "" {
			report.Missing++
			r.logg.Warn(recCtx, "charge has no settlement yet")
			continue
		}
		if opts.DryRun {
			report.Updated++
			r.logg.Info(r.logg.WithField(recCtx, "balance_transaction_id", txnID), "would append settlement id")
			continue
		}
		if _, err := r.records.AppendRemoteIDs(ctx, rec.ID, txnID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		report.Updated++
		r.logg.Info(r.logg.WithField(recCtx, "balance_transaction_id", txnID), "settlement id appended")
	}
	return report, errs
}

// inspect returns the first charge id and whether a settlement id is
// already present.
func inspect(remoteIDs []string) (string, bool) {
	charge := ""
	for _, id := range remoteIDs {
		if strings.HasPrefix(id, balanceTransactionPrefix) {
			return charge, true
		}
		if charge != "" {
			continue
		}
		for _, prefix := range chargePrefixes {
			if strings.HasPrefix(id, prefix) {
				charge = id
				break
			}
		}
	}
	return charge, false
}
