package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/repo"
	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Repository persists invoices and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Invoice, error)
	Lock(ctx context.Context, id uuid.UUID) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	CreateLineItem(ctx context.Context, item *models.LineItem) error
	DeleteLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) (int64, error)
	FreezeLineItem(ctx context.Context, lineItemID uuid.UUID, value decimal.Decimal) (int64, error)
	FindOpenForSubscription(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (*models.Invoice, error)
	VoidExpired(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.DB(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.Locked(ctx, forUpdate).
		Preload("LineItems", orderLineItems).
		Where("id = ?", id).
		Take(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) error {
	return r.Base.Lock(ctx, db.LockKey(db.LockScopeInvoice, id))
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.DB(ctx).Model(&models.Invoice{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repository) CreateLineItem(ctx context.Context, item *models.LineItem) error {
	return r.DB(ctx).Create(item).Error
}

func (r *repository) DeleteLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) (int64, error) {
	res := r.DB(ctx).
		Where("id = ? AND invoice_id = ?", lineItemID, invoiceID).
		Delete(&models.LineItem{})
	return res.RowsAffected, res.Error
}

// FreezeLineItem writes the frozen value once; an already frozen line is left alone.
func (r *repository) FreezeLineItem(ctx context.Context, lineItemID uuid.UUID, value decimal.Decimal) (int64, error) {
	res := r.DB(ctx).Model(&models.LineItem{}).
		Where("id = ? AND frozen_value IS NULL", lineItemID).
		Update("frozen_value", value)
	return res.RowsAffected, res.Error
}

func (r *repository) FindOpenForSubscription(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.DB(ctx).
		Preload("LineItems", orderLineItems).
		Where("subscription_id = ?", subscriptionID).
		Where("status IN ?", []enums.InvoiceStatus{enums.InvoiceDraft, enums.InvoiceOpen}).
		Where("expires_on IS NULL OR expires_on > ?", now).
		Order("created_at DESC").
		Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) VoidExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.Invoice{}).
		Where("status IN ?", []enums.InvoiceStatus{enums.InvoiceDraft, enums.InvoiceOpen}).
		Where("expires_on IS NOT NULL AND expires_on <= ?", now).
		Updates(map[string]any{"status": enums.InvoiceVoid, "current_intent": nil})
	return res.RowsAffected, res.Error
}

func orderLineItems(tx *gorm.DB) *gorm.DB {
	return tx.Order("priority ASC").Order("created_at ASC").Order("id ASC")
}
