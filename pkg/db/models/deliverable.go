package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Deliverable is the unit of work a seller is paid for once completed.
type Deliverable struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID     uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	BuyerID      *uuid.UUID      `gorm:"column:buyer_id;type:uuid"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency     enums.Currency  `gorm:"column:currency;type:text;not null"`
	CompletedOn  *time.Time      `gorm:"column:completed_on;index"`
	PayoutSent   bool            `gorm:"column:payout_sent;not null;default:false"`
	PayoutSentOn *time.Time      `gorm:"column:payout_sent_on"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Deliverable) TableName() string { return "deliverables" }

func (d *Deliverable) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}

// PayoutPreference holds where and whether a user gets paid out.
type PayoutPreference struct {
	UserID           uuid.UUID             `gorm:"column:user_id;type:uuid;primaryKey"`
	Enabled          bool                  `gorm:"column:enabled;not null"`
	Gateway          enums.GatewayProvider `gorm:"column:gateway;type:text;not null;default:'stripe'"`
	DestinationToken string                `gorm:"column:destination_token;type:text;not null"`
	Currency         enums.Currency        `gorm:"column:currency;type:text;not null;default:'USD'"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (PayoutPreference) TableName() string { return "payout_preferences" }
