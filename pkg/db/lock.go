package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lock key namespaces. Keys are hashed server side so any string works.
const (
	LockScopeInvoice = "invoice"
	LockScopeUser    = "user-balance"
)

// LockKey builds the advisory lock key for an entity.
func LockKey(scope string, id fmt.Stringer) string {
	return scope + ":" + id.String()
}

// AdvisoryLock takes a transaction-scoped advisory lock on key. It is released
// on commit or rollback. SQLite serializes writers already, so the call is a
// no-op there.
func AdvisoryLock(tx *gorm.DB, key string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

// ForUpdate adds SELECT ... FOR UPDATE on dialects that support it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ForUpdateSkipLocked claims rows without waiting on rows held by other workers.
func ForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
