package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/outbox/registry"
)

// message wraps the stored envelope for Pub/Sub. Payload attributes come
// first so the envelope keys always win.
func message(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := make(map[string]string, len(resolved.Attributes)+6)
	for k, v := range resolved.Attributes {
		attrs[k] = v
	}
	attrs["event_id"] = resolved.Envelope.EventID
	attrs["event_type"] = string(row.EventType)
	attrs["aggregate_type"] = string(row.AggregateType)
	attrs["aggregate_id"] = row.AggregateID.String()
	attrs["schema_version"] = strconv.Itoa(resolved.Envelope.Version)
	occurred := resolved.Envelope.OccurredAt
	if occurred.IsZero() {
		occurred = row.CreatedAt
	}
	attrs["occurred_at"] = occurred.UTC().Format(time.RFC3339Nano)
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(enums.OutboxDLQReasonNoPublisher, fmt.Errorf("no publisher for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, message(row, resolved))
	if result == nil {
		return registry.NewNonRetryableError(enums.OutboxDLQReasonNoPublisher, fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}
