package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// Invoice groups the line items of one billable event.
type Invoice struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Status         enums.InvoiceStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	Type           enums.InvoiceType   `gorm:"column:type;type:text;not null"`
	Currency       enums.Currency      `gorm:"column:currency;type:text;not null"`
	BillToID       *uuid.UUID          `gorm:"column:bill_to_id;type:uuid;index"`
	IssuedByID     *uuid.UUID          `gorm:"column:issued_by_id;type:uuid"`
	RecordOnly     bool                `gorm:"column:record_only;not null;default:false"`
	PaymentSource  enums.AccountType   `gorm:"column:payment_source;type:text;not null;default:'CARD'"`
	CurrentIntent  *string             `gorm:"column:current_intent"`
	DeliverableID  *uuid.UUID          `gorm:"column:deliverable_id;type:uuid;index"`
	SubscriptionID *uuid.UUID          `gorm:"column:subscription_id;type:uuid;index"`
	PaidOn         *time.Time          `gorm:"column:paid_on"`
	ExpiresOn      *time.Time          `gorm:"column:expires_on"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID;references:ID"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// LineItem is one priced component of an invoice. FrozenValue is written once,
// when the invoice is paid.
type LineItem struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID          uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null;index"`
	Type               enums.LineItemType  `gorm:"column:type;type:text;not null"`
	Priority           int                 `gorm:"column:priority;not null;default:0"`
	Amount             decimal.Decimal     `gorm:"column:amount;type:numeric(20,4);not null;default:0"`
	Percentage         decimal.Decimal     `gorm:"column:percentage;type:numeric(9,4);not null;default:0"`
	CascadePercentage  bool                `gorm:"column:cascade_percentage;not null;default:false"`
	CascadeAmount      bool                `gorm:"column:cascade_amount;not null;default:false"`
	FrozenValue        decimal.NullDecimal `gorm:"column:frozen_value;type:numeric(20,4)"`
	DestinationUserID  *uuid.UUID          `gorm:"column:destination_user_id;type:uuid"`
	DestinationAccount *enums.AccountType  `gorm:"column:destination_account;type:text"`
	Description        string              `gorm:"column:description;type:text;not null;default:''"`
	Metadata           datatypes.JSONMap   `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (LineItem) TableName() string { return "line_items" }

func (l *LineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
