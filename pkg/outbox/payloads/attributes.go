package payloads

import (
	"strconv"

	"github.com/google/uuid"
)

// Attributes are the Pub/Sub message attributes subscribers filter on.
// Values stay short; the full payload travels in the message body.
func (e PaymentEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"invoice_id": e.InvoiceID.String(),
		"currency":   e.Currency,
		"amount":     e.Amount,
	}
	setOptional(attrs, "user_id", e.BillToID)
	setRecords(attrs, e.TransactionIDs)
	return attrs
}

func (e RenewalFailedEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"subscription_id": e.SubscriptionID.String(),
		"user_id":         e.UserID.String(),
		"failed_attempts": strconv.Itoa(e.FailedAttempts),
	}
	setOptional(attrs, "invoice_id", e.InvoiceID)
	return attrs
}

func (e RefundIssuedEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"transaction_id":      e.TransactionID.String(),
		"fund_transaction_id": e.FundTransactionID.String(),
		"status":              e.Status,
		"currency":            e.Currency,
		"amount":              e.Amount,
	}
	setOptional(attrs, "user_id", e.PayeeID)
	return attrs
}

func (e PayoutEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"user_id":  e.UserID.String(),
		"currency": e.Currency,
		"amount":   e.Amount,
	}
	setRecords(attrs, e.TransactionIDs)
	return attrs
}

func setOptional(attrs map[string]string, key string, id *uuid.UUID) {
	if id != nil && *id != uuid.Nil {
		attrs[key] = id.String()
	}
}

// setRecords names the leading ledger record and how many the event covers.
func setRecords(attrs map[string]string, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	attrs["transaction_id"] = ids[0].String()
	attrs["transaction_count"] = strconv.Itoa(len(ids))
}
