package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Subscription is a recurring premium plan billed once per term.
type Subscription struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Status           enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'active'"`
	Amount           decimal.Decimal          `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency         enums.Currency           `gorm:"column:currency;type:text;not null"`
	PaymentToken     string                   `gorm:"column:payment_token;type:text;not null"`
	CurrentPeriodEnd time.Time                `gorm:"column:current_period_end;not null;index"`
	FailedAttempts   int                      `gorm:"column:failed_attempts;not null;default:0"`
	LastFailure      *string                  `gorm:"column:last_failure"`
	CanceledAt       *time.Time               `gorm:"column:canceled_at"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
