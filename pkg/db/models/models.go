package models

import (
	"github.com/google/uuid"
)

// All lists every persisted model; used by sqlite tests and dev auto-migrate.
func All() []any {
	return []any{
		&TransactionRecord{},
		&TransactionTarget{},
		&Invoice{},
		&LineItem{},
		&Deliverable{},
		&PayoutPreference{},
		&Subscription{},
		&WebhookEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
