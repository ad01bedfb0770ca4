package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/pagination"
)

// Sums come back from SQLite as floats; numeric(20,4) bounds the real scale.
const storedScale = 4

// Query filters transaction records. Zero-valued fields do not filter.
type Query struct {
	IDs            []uuid.UUID
	Targets        []Target
	Categories     []enums.TransactionCategory
	Statuses       []enums.TransactionStatus
	Sources        []enums.AccountType
	Destinations   []enums.AccountType
	PayerID        *uuid.UUID
	PayeeID        *uuid.UUID
	// Party matches records where the entity is payer or payee.
	Party          *uuid.UUID
	CreatedBefore  *time.Time
	FinalizedAfter *time.Time
	FinalizedUntil *time.Time
	ExcludeIDs     []uuid.UUID
	NotReversed    bool
	NewestFirst    bool
	// After continues a listing past the cursor in the query's order.
	After          *pagination.Cursor
	Limit          int
}

// Side picks which end of a record a sum is taken over.
type Side string

const (
	SideDestination Side = "destination"
	SideSource      Side = "source"
)

// SumQuery sums amounts flowing into (SideDestination) or out of
// (SideSource) account for one entity. A nil Entity means the platform.
type SumQuery struct {
	Side     Side
	Account  enums.AccountType
	Entity   *uuid.UUID
	Statuses []enums.TransactionStatus
	Currency enums.Currency
}

// CurrencyTotal is one row of a per-currency aggregate.
type CurrencyTotal struct {
	Currency enums.Currency
	Total    decimal.Decimal
}

// Repository manages persistence for transaction records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.TransactionRecord, targets []Target) error
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.TransactionRecord, error)
	Find(ctx context.Context, q Query) ([]models.TransactionRecord, error)
	FindReversalOf(ctx context.Context, id uuid.UUID) (*models.TransactionRecord, error)
	MarkFinalized(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, at time.Time, remoteIDs []string, message *string) (int64, error)
	SetRemoteIDs(ctx context.Context, id uuid.UUID, remoteIDs []string) error
	Sum(ctx context.Context, q SumQuery) (decimal.Decimal, error)
	TotalsByCurrency(ctx context.Context, side Side, account enums.AccountType, statuses []enums.TransactionStatus) ([]CurrencyTotal, error)
	LockEntity(ctx context.Context, entity uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.TransactionRecord, targets []Target) error {
	conn := r.db.WithContext(ctx)
	if err := conn.Omit(clause.Associations).Create(record).Error; err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	rows := make([]models.TransactionTarget, 0, len(targets))
	for i, t := range targets {
		rows = append(rows, models.TransactionTarget{
			TransactionID: record.ID,
			ContentType:   t.ContentType,
			ObjectID:      t.ObjectID,
			Position:      i,
		})
	}
	if err := conn.Create(&rows).Error; err != nil {
		return err
	}
	record.Targets = rows
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.TransactionRecord, error) {
	conn := r.db.WithContext(ctx)
	if forUpdate {
		conn = db.ForUpdate(conn)
	}
	var record models.TransactionRecord
	if err := conn.Where("id = ?", id).Take(&record).Error; err != nil {
		return nil, err
	}
	if err := r.loadTargets(ctx, []*models.TransactionRecord{&record}); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Find(ctx context.Context, q Query) ([]models.TransactionRecord, error) {
	conn := r.db.WithContext(ctx).Model(&models.TransactionRecord{})
	if len(q.IDs) > 0 {
		conn = conn.Where("id IN ?", q.IDs)
	}
	if len(q.Targets) > 0 {
		sub := r.db.WithContext(ctx).Model(&models.TransactionTarget{}).Select("transaction_id")
		cond := r.db.Where("1 = 0")
		for _, t := range q.Targets {
			cond = cond.Or("(content_type = ? AND object_id = ?)", t.ContentType, t.ObjectID)
		}
		conn = conn.Where("id IN (?)", sub.Where(cond))
	}
	if len(q.Categories) > 0 {
		conn = conn.Where("category IN ?", q.Categories)
	}
	if len(q.Statuses) > 0 {
		conn = conn.Where("status IN ?", q.Statuses)
	}
	if len(q.Sources) > 0 {
		conn = conn.Where("source IN ?", q.Sources)
	}
	if len(q.Destinations) > 0 {
		conn = conn.Where("destination IN ?", q.Destinations)
	}
	if q.PayerID != nil {
		conn = conn.Where("payer_id = ?", *q.PayerID)
	}
	if q.PayeeID != nil {
		conn = conn.Where("payee_id = ?", *q.PayeeID)
	}
	if q.Party != nil {
		conn = conn.Where("(payer_id = ? OR payee_id = ?)", *q.Party, *q.Party)
	}
	if q.After != nil {
		op := ">"
		if q.NewestFirst {
			op = "<"
		}
		conn = conn.Where("(created_on "+op+" ? OR (created_on = ? AND id "+op+" ?))", q.After.CreatedOn, q.After.CreatedOn, q.After.ID)
	}
	if q.CreatedBefore != nil {
		conn = conn.Where("created_on < ?", *q.CreatedBefore)
	}
	if q.FinalizedAfter != nil {
		conn = conn.Where("finalized_on > ?", *q.FinalizedAfter)
	}
	if q.FinalizedUntil != nil {
		conn = conn.Where("finalized_on <= ?", *q.FinalizedUntil)
	}
	if len(q.ExcludeIDs) > 0 {
		conn = conn.Where("id NOT IN ?", q.ExcludeIDs)
	}
	if q.NotReversed {
		reversed := r.db.WithContext(ctx).Model(&models.TransactionRecord{}).
			Select("reversal_of_id").Where("reversal_of_id IS NOT NULL").Where(liveReversal)
		conn = conn.Where("id NOT IN (?)", reversed)
	}
	if q.NewestFirst {
		conn = conn.Order("created_on DESC").Order("id DESC")
	} else {
		conn = conn.Order("created_on ASC").Order("id ASC")
	}
	if q.Limit > 0 {
		conn = conn.Limit(q.Limit)
	}

	var records []models.TransactionRecord
	if err := conn.Find(&records).Error; err != nil {
		return nil, err
	}
	ptrs := make([]*models.TransactionRecord, len(records))
	for i := range records {
		ptrs[i] = &records[i]
	}
	if err := r.loadTargets(ctx, ptrs); err != nil {
		return nil, err
	}
	return records, nil
}

// liveReversal excludes reversals the gateway rejected. Those stay in the
// ledger as history but no longer claim the original.
const liveReversal = "NOT (status = 'failure' AND finalized_on IS NOT NULL)"

func (r *repository) FindReversalOf(ctx context.Context, id uuid.UUID) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := r.db.WithContext(ctx).Where("reversal_of_id = ?", id).Where(liveReversal).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadTargets(ctx, []*models.TransactionRecord{&record}); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) MarkFinalized(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, at time.Time, remoteIDs []string, message *string) (int64, error) {
	updates := map[string]any{
		"status":       status,
		"finalized_on": at,
		"remote_ids":   remoteIDsColumn(remoteIDs),
	}
	if message != nil {
		updates["response_message"] = *message
	}
	res := r.db.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Where("id = ? AND finalized_on IS NULL", id).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) SetRemoteIDs(ctx context.Context, id uuid.UUID, remoteIDs []string) error {
	return r.db.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Where("id = ?", id).
		Update("remote_ids", remoteIDsColumn(remoteIDs)).Error
}

func (r *repository) Sum(ctx context.Context, q SumQuery) (decimal.Decimal, error) {
	column, entityColumn := "destination", "payee_id"
	if q.Side == SideSource {
		column, entityColumn = "source", "payer_id"
	}
	conn := r.db.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Select("COALESCE(SUM(amount), 0)").
		Where(column+" = ?", q.Account).
		Where("status IN ?", q.Statuses)
	if q.Entity != nil {
		conn = conn.Where(entityColumn+" = ?", *q.Entity)
	} else {
		conn = conn.Where(entityColumn + " IS NULL")
	}
	if q.Currency != "" {
		conn = conn.Where("currency = ?", q.Currency)
	}
	var total decimal.NullDecimal
	if err := conn.Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(storedScale), nil
}

func (r *repository) TotalsByCurrency(ctx context.Context, side Side, account enums.AccountType, statuses []enums.TransactionStatus) ([]CurrencyTotal, error) {
	column := "destination"
	if side == SideSource {
		column = "source"
	}
	var rows []CurrencyTotal
	err := r.db.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Select("currency, COALESCE(SUM(amount), 0) AS total").
		Where(column+" = ?", account).
		Where("status IN ?", statuses).
		Group("currency").
		Order("currency").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Total = rows[i].Total.Round(storedScale)
	}
	return rows, nil
}

func (r *repository) LockEntity(ctx context.Context, entity uuid.UUID) error {
	return db.AdvisoryLock(r.db.WithContext(ctx), db.LockKey(db.LockScopeUser, entity))
}

func (r *repository) loadTargets(ctx context.Context, records []*models.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(records))
	byID := make(map[uuid.UUID]*models.TransactionRecord, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		byID[rec.ID] = rec
		rec.Targets = nil
	}
	var rows []models.TransactionTarget
	if err := r.db.WithContext(ctx).
		Where("transaction_id IN ?", ids).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if rec, ok := byID[row.TransactionID]; ok {
			rec.Targets = append(rec.Targets, row)
		}
	}
	return nil
}

func remoteIDsColumn(ids []string) any {
	if ids == nil {
		ids = []string{}
	}
	return datatypes.JSONSlice[string](ids)
}
