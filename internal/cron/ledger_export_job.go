package cron

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

const (
	defaultExportBatch = 500
	// exportLag keeps the window behind records that are still committing.
	exportLag = time.Minute
)

type ledgerFinder interface {
	Find(ctx context.Context, q ledger.Query) ([]models.TransactionRecord, error)
}

type warehouse interface {
	MaxTimestamp(ctx context.Context, table, column string) (time.Time, error)
	InsertRows(ctx context.Context, table string, rows []any) error
}

type LedgerExportJobParams struct {
	Logger    *logger.Logger
	Ledger    ledgerFinder
	Warehouse warehouse
	Table     string
	BatchSize int
}

// ledgerRow is the BigQuery shape of a finalized record.
type ledgerRow struct {
	ID           string              `bigquery:"id"`
	Status       string              `bigquery:"status"`
	Category     string              `bigquery:"category"`
	Source       string              `bigquery:"source"`
	Destination  string              `bigquery:"destination"`
	Amount       *big.Rat            `bigquery:"amount"`
	Currency     string              `bigquery:"currency"`
	PayerID      bigquery.NullString `bigquery:"payer_id"`
	PayeeID      bigquery.NullString `bigquery:"payee_id"`
	ReversalOfID bigquery.NullString `bigquery:"reversal_of_id"`
	Unattributed bool                `bigquery:"unattributed"`
	RemoteIDs    []string            `bigquery:"remote_ids"`
	Targets      []string            `bigquery:"targets"`
	CreatedOn    time.Time           `bigquery:"created_on"`
	FinalizedOn  time.Time           `bigquery:"finalized_on"`
}

// NewLedgerExportJob copies records finalized since the warehouse's newest
// row. Each row is inserted with the record id as its insert id so an
// overlapping window does not duplicate rows.
func NewLedgerExportJob(params LedgerExportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil || params.Warehouse == nil {
		return nil, fmt.Errorf("ledger and warehouse required")
	}
	if params.Table == "" {
		return nil, fmt.Errorf("export table required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExportBatch
	}
	return &ledgerExportJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		warehouse: params.Warehouse,
		table:     params.Table,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type ledgerExportJob struct {
	logg      *logger.Logger
	ledger    ledgerFinder
	warehouse warehouse
	table     string
	batch     int
	now       func() time.Time
}

func (j *ledgerExportJob) Name() string { return "ledger-export" }

func (j *ledgerExportJob) Run(ctx context.Context) error {
	since, err := j.warehouse.MaxTimestamp(ctx, j.table, "finalized_on")
	if err != nil {
		return fmt.Errorf("read export watermark: %w", err)
	}
	until := j.now().UTC().Add(-exportLag)
	if !since.Before(until) {
		return nil
	}
	records, err := j.ledger.Find(ctx, ledger.Query{FinalizedAfter: &since, FinalizedUntil: &until})
	if err != nil {
		return fmt.Errorf("load finalized records: %w", err)
	}

	exported := 0
	for start := 0; start < len(records); start += j.batch {
		end := min(start+j.batch, len(records))
		rows := make([]any, 0, end-start)
		for i := range records[start:end] {
			rows = append(rows, exportRow(&records[start+i]))
		}
		if err := j.warehouse.InsertRows(ctx, j.table, rows); err != nil {
			return fmt.Errorf("insert ledger rows: %w", err)
		}
		exported += len(rows)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"since":    since,
		"until":    until,
		"exported": exported,
	}), "ledger export finished")
	return nil
}

func exportRow(rec *models.TransactionRecord) *bigquery.StructSaver {
	row := ledgerRow{
		ID:           rec.ID.String(),
		Status:       string(rec.Status),
		Category:     string(rec.Category),
		Source:       string(rec.Source),
		Destination:  string(rec.Destination),
		Amount:       rec.Amount.Rat(),
		Currency:     string(rec.Currency),
		Unattributed: rec.Unattributed,
		RemoteIDs:    append([]string{}, rec.RemoteIDs...),
		CreatedOn:    rec.CreatedOn.UTC(),
	}
	if rec.FinalizedOn != nil {
		row.FinalizedOn = rec.FinalizedOn.UTC()
	}
	if rec.PayerID != nil {
		row.PayerID = bigquery.NullString{StringVal: rec.PayerID.String(), Valid: true}
	}
	if rec.PayeeID != nil {
		row.PayeeID = bigquery.NullString{StringVal: rec.PayeeID.String(), Valid: true}
	}
	if rec.ReversalOfID != nil {
		row.ReversalOfID = bigquery.NullString{StringVal: rec.ReversalOfID.String(), Valid: true}
	}
	for _, target := range ledger.TargetsOf(rec) {
		row.Targets = append(row.Targets, target.String())
	}
	return &bigquery.StructSaver{Struct: row, InsertID: rec.ID.String()}
}
