package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateInvoice           OutboxAggregateType = "invoice"
	AggregateTransactionRecord OutboxAggregateType = "transaction_record"
	AggregateSubscription      OutboxAggregateType = "subscription"
	AggregatePayout            OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateInvoice,
	AggregateTransactionRecord,
	AggregateSubscription,
	AggregatePayout,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a notification-worthy ledger outcome.
type OutboxEventType string

const (
	EventPaymentSucceeded OutboxEventType = "payment_succeeded"
	EventPaymentFailed    OutboxEventType = "payment_failed"
	EventRenewalFailed    OutboxEventType = "renewal_failed"
	EventRefundIssued     OutboxEventType = "refund_issued"
	EventPayoutSent       OutboxEventType = "payout_sent"
	EventPayoutFailed     OutboxEventType = "payout_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventRenewalFailed,
	EventRefundIssued,
	EventPayoutSent,
	EventPayoutFailed,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason says why an outbox row was parked in outbox_dlq.
// Unroutable rows match no registered event and aggregate pair. Malformed
// rows carry an envelope or payload that will not decode.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonUnroutable  OutboxDLQErrorReason = "unroutable"
	OutboxDLQReasonMalformed   OutboxDLQErrorReason = "malformed_payload"
	OutboxDLQReasonNoPublisher OutboxDLQErrorReason = "no_publisher"
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonUnroutable,
	OutboxDLQReasonMalformed,
	OutboxDLQReasonNoPublisher,
	OutboxDLQReasonMaxAttempts,
}

// IsValid reports whether the value is a known DLQ reason.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
