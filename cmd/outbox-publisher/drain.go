package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/outbox/registry"
)

type settlement int

const (
	settledPublished settlement = iota
	settledRetry
	settledParked
	settledHeld
)

// drain claims one batch and settles every row in it inside the claiming
// transaction. It reports whether any row was claimed.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	claimed := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(rows) > 0

		held := make(map[uuid.UUID]bool)
		tally := make(map[settlement]int, 4)
		for _, row := range rows {
			if held[row.AggregateID] {
				tally[settledHeld]++
				continue
			}
			outcome, err := r.settle(ctx, tx, row)
			if err != nil {
				return err
			}
			if outcome == settledRetry {
				held[row.AggregateID] = true
			}
			tally[outcome]++
		}
		if claimed {
			r.logg.Info(r.logg.WithFields(ctx, map[string]any{
				"claimed":   len(rows),
				"published": tally[settledPublished],
				"retrying":  tally[settledRetry],
				"parked":    tally[settledParked],
				"held":      tally[settledHeld],
			}), "outbox batch drained")
		}
		return nil
	})
	return claimed, err
}

// settle publishes one row and records what happened to it. The returned
// error is a storage failure that aborts the batch.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (settlement, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return settledParked, r.park(ctx, tx, row, nil, err)
	}

	logCtx := r.logg.WithFields(ctx, rowFields(row, resolved))
	err = r.publish(ctx, row, resolved)
	if err == nil {
		if err := r.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(logCtx, "outbox event published")
		return settledPublished, nil
	}

	var rejected registry.NonRetryableError
	if errors.As(err, &rejected) {
		return settledParked, r.park(ctx, tx, row, resolved, err)
	}
	if row.AttemptCount+1 >= r.maxAttempts {
		return settledParked, r.park(ctx, tx, row, resolved, registry.NewNonRetryableError(
			enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err)))
	}

	r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
		"attempt_count": row.AttemptCount + 1,
		"error":         err.Error(),
	}), "outbox publish failed, will retry")
	if err := r.repo.MarkFailedTx(tx, row.ID, err); err != nil {
		return 0, fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return settledRetry, nil
}

// park copies row to the DLQ and retires it from the outbox. resolved is
// nil when the row never decoded.
func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, resolved *registry.ResolvedEvent, cause error) error {
	reason := dlqReason(cause)
	message := cause.Error()

	fields := rowFields(row, resolved)
	fields["error_reason"] = reason
	fields["error"] = message
	r.logg.Warn(r.logg.WithFields(ctx, fields), "outbox event parked")

	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func dlqReason(err error) enums.OutboxDLQErrorReason {
	var rejected registry.NonRetryableError
	if errors.As(err, &rejected) && rejected.Reason.IsValid() {
		return rejected.Reason
	}
	return enums.OutboxDLQReasonUnroutable
}

// rowFields names the row and the ledger entities it is about for logs.
func rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
	}
	for _, key := range []string{"invoice_id", "transaction_id", "user_id"} {
		if v, ok := resolved.Attributes[key]; ok {
			fields[key] = v
		}
	}
	return fields
}
