package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/repo"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Repository persists premium subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Subscription, error)
	// ListDue returns active or past-due subscriptions whose period ended at
	// or before now, earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.DB(ctx).Create(subscription).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.Locked(ctx, forUpdate).Where("id = ?", id).Take(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	statuses := []enums.SubscriptionStatus{enums.SubscriptionActive, enums.SubscriptionPastDue}
	var subs []models.Subscription
	if err := r.DB(ctx).
		Where("status IN ?", statuses).
		Where("canceled_at IS NULL").
		Where("current_period_end <= ?", now).
		Order("current_period_end ASC").
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.DB(ctx).Model(&models.Subscription{}).Where("id = ?", id).Updates(fields).Error
}
