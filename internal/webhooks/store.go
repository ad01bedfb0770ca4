// Package webhooks stores gateway deliveries so each one is applied once and
// can be replayed by an operator.
package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledgerd/internal/repo"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Store persists webhook deliveries keyed by (provider, event id).
type Store interface {
	WithTx(tx *gorm.DB) Store
	// Record stores the delivery unless it is already known and returns the
	// stored row either way.
	Record(ctx context.Context, provider enums.GatewayProvider, eventID, eventType string, payload []byte) (*models.WebhookEvent, error)
	Find(ctx context.Context, provider enums.GatewayProvider, eventID string) (*models.WebhookEvent, error)
	// Lock reloads the delivery holding its row until the transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, note *string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	// ListUnprocessed returns deliveries received before cutoff that no
	// handler has applied yet, oldest first.
	ListUnprocessed(ctx context.Context, provider enums.GatewayProvider, cutoff time.Time, limit int) ([]models.WebhookEvent, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type store struct {
	repo.Base
	now func() time.Time
}

// NewStore binds a webhook store to conn.
func NewStore(conn *gorm.DB) Store {
	return &store{Base: repo.NewBase(conn), now: func() time.Time { return time.Now().UTC() }}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{Base: s.Base.WithTx(tx), now: s.now}
}

func (s *store) Record(ctx context.Context, provider enums.GatewayProvider, eventID, eventType string, payload []byte) (*models.WebhookEvent, error) {
	row := &models.WebhookEvent{
		Provider: provider,
		EventID:  eventID,
		Type:     eventType,
		Payload:  datatypes.JSON(payload),
	}
	err := s.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, provider, eventID)
}

func (s *store) Find(ctx context.Context, provider enums.GatewayProvider, eventID string) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	if err := s.DB(ctx).Where("provider = ? AND event_id = ?", provider, eventID).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *store) Lock(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	if err := s.Locked(ctx, true).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *store) MarkProcessed(ctx context.Context, id uuid.UUID, note *string) error {
	return s.DB(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]any{
		"processed_at": s.now(),
		"last_error":   note,
	}).Error
}

func (s *store) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.DB(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Update("last_error", message).Error
}

func (s *store) ListUnprocessed(ctx context.Context, provider enums.GatewayProvider, cutoff time.Time, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.WebhookEvent
	err := s.DB(ctx).
		Where("provider = ? AND processed_at IS NULL AND received_at < ?", provider, cutoff).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *store) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB(ctx).Where("processed_at IS NOT NULL AND processed_at < ?", cutoff).Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}
