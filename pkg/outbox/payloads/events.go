package payloads

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent reports the outcome of a charge attempt against an invoice.
type PaymentEvent struct {
	InvoiceID      uuid.UUID   `json:"invoice_id"`
	BillToID       *uuid.UUID  `json:"bill_to_id,omitempty"`
	Amount         string      `json:"amount"`
	Currency       string      `json:"currency"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
	GatewayEventID string      `json:"gateway_event_id,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// RenewalFailedEvent asks the subscriber to update their payment method.
type RenewalFailedEvent struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	UserID         uuid.UUID  `json:"user_id"`
	InvoiceID      *uuid.UUID `json:"invoice_id,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
	Reason         string     `json:"reason"`
}

// RefundIssuedEvent reports a card refund, successful or not.
type RefundIssuedEvent struct {
	TransactionID     uuid.UUID  `json:"transaction_id"`
	FundTransactionID uuid.UUID  `json:"fund_transaction_id"`
	PayeeID           *uuid.UUID `json:"payee_id,omitempty"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
}

// PayoutEvent reports a transfer of holdings to a user's bank account.
type PayoutEvent struct {
	UserID         uuid.UUID   `json:"user_id"`
	Amount         string      `json:"amount"`
	Currency       string      `json:"currency"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
	DeliverableIDs []uuid.UUID `json:"deliverable_ids"`
	RemoteID       string      `json:"remote_id,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}
