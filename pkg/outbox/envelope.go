package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
)

// SchemaVersion is the newest payload schema this build writes and reads.
const SchemaVersion = 1

// PayloadEnvelope is what outbox_events.payload_json holds and what
// subscribers receive as the message body. It names its own event and
// aggregate so the body reads without the Pub/Sub attributes.
type PayloadEnvelope struct {
	Version       int                       `json:"version"`
	EventID       string                    `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType,omitempty"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType,omitempty"`
	AggregateID   uuid.UUID                 `json:"aggregateId"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	Data          json.RawMessage           `json:"data"`
}

// CheckRow reports an envelope that disagrees with the row storing it or
// carries a schema this build cannot read. Envelopes written before the
// event fields existed leave them empty and are only version checked.
func (e PayloadEnvelope) CheckRow(row models.OutboxEvent) error {
	if e.Version < 1 || e.Version > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", e.Version)
	}
	if e.EventType != "" && e.EventType != row.EventType {
		return fmt.Errorf("envelope event %s stored as %s", e.EventType, row.EventType)
	}
	if e.AggregateType != "" && e.AggregateType != row.AggregateType {
		return fmt.Errorf("envelope aggregate %s stored as %s", e.AggregateType, row.AggregateType)
	}
	if e.AggregateID != uuid.Nil && e.AggregateID != row.AggregateID {
		return fmt.Errorf("envelope aggregate id %s stored as %s", e.AggregateID, row.AggregateID)
	}
	return nil
}
