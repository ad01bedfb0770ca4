package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// TransactionRecord is one movement of money between two logical accounts.
// Amount is never negative; direction is Source -> Destination.
type TransactionRecord struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	Status          enums.TransactionStatus     `gorm:"column:status;type:text;not null;index"`
	Category        enums.TransactionCategory   `gorm:"column:category;type:text;not null"`
	Source          enums.AccountType           `gorm:"column:source;type:text;not null;index:idx_tr_source_payer"`
	Destination     enums.AccountType           `gorm:"column:destination;type:text;not null;index:idx_tr_destination_payee"`
	Amount          decimal.Decimal             `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency        enums.Currency              `gorm:"column:currency;type:text;not null"`
	PayerID         *uuid.UUID                  `gorm:"column:payer_id;type:uuid;index:idx_tr_source_payer"`
	PayeeID         *uuid.UUID                  `gorm:"column:payee_id;type:uuid;index:idx_tr_destination_payee"`
	RemoteIDs       datatypes.JSONSlice[string] `gorm:"column:remote_ids;type:jsonb"`
	ResponseMessage string                      `gorm:"column:response_message;type:text;not null;default:''"`
	CardID          *string                     `gorm:"column:card_id"`
	AuthCode        *string                     `gorm:"column:auth_code"`
	ReversalOfID    *uuid.UUID                  `gorm:"column:reversal_of_id;type:uuid;uniqueIndex:ux_transaction_records_reversal_of,where:reversal_of_id IS NOT NULL AND (status <> 'failure' OR finalized_on IS NULL)"`
	Unattributed    bool                        `gorm:"column:unattributed;not null;default:false"`
	CreatedOn       time.Time                   `gorm:"column:created_on;autoCreateTime;index"`
	FinalizedOn     *time.Time                  `gorm:"column:finalized_on;index"`

	Targets []TransactionTarget `gorm:"foreignKey:TransactionID;references:ID"`
}

func (TransactionRecord) TableName() string { return "transaction_records" }

func (r *TransactionRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// TransactionTarget links a record to the business object it is about.
type TransactionTarget struct {
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;primaryKey"`
	ContentType   string    `gorm:"column:content_type;type:text;primaryKey;index:idx_targets_object"`
	ObjectID      string    `gorm:"column:object_id;type:text;primaryKey;index:idx_targets_object"`
	Position      int       `gorm:"column:position;not null;default:0"`
}

func (TransactionTarget) TableName() string { return "transaction_targets" }
