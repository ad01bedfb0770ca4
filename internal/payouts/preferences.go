package payouts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgerd/internal/repo"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
)

// PreferenceRepository stores where each user is paid out.
type PreferenceRepository interface {
	WithTx(tx *gorm.DB) PreferenceRepository
	// Get returns nil without an error when the user has no preference.
	Get(ctx context.Context, userID uuid.UUID) (*models.PayoutPreference, error)
	Upsert(ctx context.Context, pref *models.PayoutPreference) error
}

type preferenceRepository struct {
	repo.Base
}

// NewPreferenceRepository binds a preference repository to conn.
func NewPreferenceRepository(conn *gorm.DB) PreferenceRepository {
	return &preferenceRepository{Base: repo.NewBase(conn)}
}

func (r *preferenceRepository) WithTx(tx *gorm.DB) PreferenceRepository {
	if tx == nil {
		return r
	}
	return &preferenceRepository{Base: r.Base.WithTx(tx)}
}

func (r *preferenceRepository) Get(ctx context.Context, userID uuid.UUID) (*models.PayoutPreference, error) {
	var pref models.PayoutPreference
	err := r.DB(ctx).Where("user_id = ?", userID).Take(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, pref *models.PayoutPreference) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "gateway", "destination_token", "currency", "updated_at"}),
	}).Create(pref).Error
}
