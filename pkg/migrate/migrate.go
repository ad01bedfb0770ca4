package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

// ErrRollbackRefused is returned for goose commands that roll back through
// Run. Rolling back drops ledger tables, so it only happens through Rollback
// or an explicit downgrade in MigrateToVersion.
var ErrRollbackRefused = errors.New("rollback of ledger migrations must be explicit")

var rollbackCommands = map[string]bool{
	"down":    true,
	"down-to": true,
	"redo":    true,
	"reset":   true,
}

var applyCommands = map[string]bool{
	"up":        true,
	"up-to":     true,
	"up-by-one": true,
}

// Run executes a goose command. Commands that apply migrations validate the
// directory first.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if rollbackCommands[command] {
		return fmt.Errorf("goose %s: %w", command, ErrRollbackRefused)
	}
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if applyCommands[command] {
		if err := ValidateDir(dir); err != nil {
			return err
		}
	}
	return runGoose(ctx, db, dir, command, args...)
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, db *sql.DB, dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return runGoose(ctx, db, dir, "down")
}

// MigrateToVersion moves the schema to targetVersion. Moving down requires
// allowDown.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string, allowDown bool) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	current, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := ValidateDir(dir); err != nil {
			return err
		}
		if err := goose.UpToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
		return nil
	case !allowDown:
		return fmt.Errorf("goose down-to %d from %d: %w", target, current, ErrRollbackRefused)
	default:
		if err := goose.DownToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return nil
	}
}

func runGoose(ctx context.Context, db *sql.DB, dir, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	// the ledger runs on Postgres
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
