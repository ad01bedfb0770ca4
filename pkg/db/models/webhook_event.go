package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// WebhookEvent is a stored gateway delivery. ProcessedAt is set once a handler
// has applied it; LastError keeps the most recent handler failure.
type WebhookEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Provider    enums.GatewayProvider `gorm:"column:provider;type:text;not null;uniqueIndex:ux_webhook_events_provider_event"`
	EventID     string                `gorm:"column:event_id;type:text;not null;uniqueIndex:ux_webhook_events_provider_event"`
	Type        string                `gorm:"column:type;type:text;not null"`
	Payload     datatypes.JSON        `gorm:"column:payload;type:jsonb;not null"`
	ReceivedAt  time.Time             `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt *time.Time            `gorm:"column:processed_at"`
	LastError   *string               `gorm:"column:last_error"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (w *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
