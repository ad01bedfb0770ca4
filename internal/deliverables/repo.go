// Package deliverables persists the units of work sellers are paid for.
package deliverables

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/repo"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
)

// Repository persists deliverables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, deliverable *models.Deliverable) error
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Deliverable, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	ListUnpaid(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.Deliverable, error)
	SetPayoutSent(ctx context.Context, ids []uuid.UUID, sent bool, at *time.Time) error
	SellersAwaitingPayout(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a deliverable repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, deliverable *models.Deliverable) error {
	return r.DB(ctx).Create(deliverable).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Deliverable, error) {
	var deliverable models.Deliverable
	if err := r.Locked(ctx, forUpdate).Where("id = ?", id).Take(&deliverable).Error; err != nil {
		return nil, err
	}
	return &deliverable, nil
}

// MarkCompleted stamps completion once; a second call affects no rows.
func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.Deliverable{}).
		Where("id = ? AND completed_on IS NULL", id).
		Update("completed_on", at)
	return res.RowsAffected, res.Error
}

// ListUnpaid returns the seller's completed deliverables not yet paid out,
// oldest completion first.
func (r *repository) ListUnpaid(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.Deliverable, error) {
	conn := r.DB(ctx).
		Where("seller_id = ? AND completed_on IS NOT NULL AND payout_sent = ?", sellerID, false).
		Order("completed_on ASC").Order("id ASC")
	if limit > 0 {
		conn = conn.Limit(limit)
	}
	var out []models.Deliverable
	if err := conn.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) SetPayoutSent(ctx context.Context, ids []uuid.UUID, sent bool, at *time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.DB(ctx).Model(&models.Deliverable{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"payout_sent": sent, "payout_sent_on": at}).Error
}

// SellersAwaitingPayout lists sellers with at least one completed, unpaid deliverable.
func (r *repository) SellersAwaitingPayout(ctx context.Context, limit int) ([]uuid.UUID, error) {
	conn := r.DB(ctx).Model(&models.Deliverable{}).
		Distinct("seller_id").
		Where("completed_on IS NOT NULL AND payout_sent = ?", false).
		Order("seller_id")
	if limit > 0 {
		conn = conn.Limit(limit)
	}
	var ids []uuid.UUID
	if err := conn.Pluck("seller_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
