package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/db"
)

// Base provides a shared foundation for domain repositories.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// WithTx rebinds the base to tx. A nil tx keeps the current connection.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Locked is DB with a row lock applied when forUpdate is set and the
// dialect supports it.
func (b Base) Locked(ctx context.Context, forUpdate bool) *gorm.DB {
	conn := b.DB(ctx)
	if forUpdate {
		conn = db.ForUpdate(conn)
	}
	return conn
}

// Lock takes a transaction-scoped advisory lock on key. It must run inside a transaction.
func (b Base) Lock(ctx context.Context, key string) error {
	return db.AdvisoryLock(b.DB(ctx), key)
}
