package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/outbox"
	"github.com/angelmondragon/ledgerd/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	invoiceID := uuid.New()
	recordID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.PaymentEvent{
		InvoiceID:      invoiceID,
		Amount:         "18.83",
		Currency:       "USD",
		TransactionIDs: []uuid.UUID{recordID},
	})

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoiceID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "notification-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.PaymentEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.Amount != "18.83" || len(payload.TransactionIDs) != 1 || payload.TransactionIDs[0] != recordID {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
	if got := resolved.Attributes["invoice_id"]; got != invoiceID.String() {
		t.Fatalf("unexpected invoice_id attribute %q", got)
	}
	if got := resolved.Attributes["transaction_id"]; got != recordID.String() {
		t.Fatalf("unexpected transaction_id attribute %q", got)
	}
	if _, ok := resolved.Attributes["user_id"]; ok {
		t.Fatalf("user_id attribute set without a bill-to user")
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("invoice_exploded"),
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"reason":"none"}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
	if nonRetry.Reason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("unexpected reason %s", nonRetry.Reason)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventPayoutSent,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"user_id":"00000000-0000-0000-0000-000000000000","amount":"1.00"}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestEventRegistryResolveMissingPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventRenewalFailed,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte("null")),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
	if nonRetry.Reason != enums.OutboxDLQReasonMalformed {
		t.Fatalf("unexpected reason %s", nonRetry.Reason)
	}
}

func TestEventRegistryResolveRejectsEnvelopeRowDisagreement(t *testing.T) {
	reg := newTestEventRegistry(t)
	invoiceID := uuid.New()
	data := mustMarshal(t, payloads.PaymentEvent{InvoiceID: invoiceID, Amount: "5.00", Currency: "USD"})

	cases := map[string]outbox.PayloadEnvelope{
		"other invoice":  {Version: 1, EventID: uuid.NewString(), AggregateID: uuid.New(), Data: data},
		"other event":    {Version: 1, EventID: uuid.NewString(), EventType: enums.EventPaymentFailed, Data: data},
		"future version": {Version: outbox.SchemaVersion + 1, EventID: uuid.NewString(), Data: data},
	}
	for name, envelope := range cases {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(envelope)
			if err != nil {
				t.Fatalf("marshal envelope: %v", err)
			}
			_, err = reg.Resolve(models.OutboxEvent{
				EventType:     enums.EventPaymentSucceeded,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   invoiceID,
				Payload:       raw,
			})
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) || nonRetry.Reason != enums.OutboxDLQReasonMalformed {
				t.Fatalf("expected malformed rejection, got %v", err)
			}
		})
	}
}

func TestEventRegistryResolvePayoutAttributes(t *testing.T) {
	reg := newTestEventRegistry(t)

	userID := uuid.New()
	records := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	event := models.OutboxEvent{
		EventType:     enums.EventPayoutSent,
		AggregateType: enums.AggregatePayout,
		AggregateID:   records[0],
		Payload: mustEnvelope(t, mustMarshal(t, payloads.PayoutEvent{
			UserID:         userID,
			Amount:         "120.00",
			Currency:       "USD",
			TransactionIDs: records,
		})),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"user_id":           userID.String(),
		"currency":          "USD",
		"amount":            "120.00",
		"transaction_id":    records[0].String(),
		"transaction_count": "3",
	}
	for key, value := range want {
		if got := resolved.Attributes[key]; got != value {
			t.Fatalf("attribute %s = %q, want %q", key, got, value)
		}
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected error without notification topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "notification-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
