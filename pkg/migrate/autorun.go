package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

// autoRunLockKey serializes dev auto-runs across the api, cron-worker and
// outbox-publisher, which all boot against the same database.
const autoRunLockKey = "ledger:migrate"

// MaybeRunDev applies pending migrations at boot when the app runs in dev
// and LEDGER_AUTO_MIGRATE is set. The directory is validated first, so a
// migration that rewrites posted ledger rows is never applied.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	return autoRun(ctx, cfg, logg, client, DefaultDir)
}

func autoRun(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client, dir string) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if err := ValidateDir(dir); err != nil {
		return fmt.Errorf("validate migrations: %w", err)
	}
	if client == nil {
		return errors.New("db client is required")
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": dir})
	}
	unlock, err := lockMigrations(ctx, sqlDB)
	if err != nil {
		return err
	}
	defer unlock()

	if logg != nil {
		logg.Info(ctx, "applying ledger migrations (dev auto-run)")
	}
	if err := Run(ctx, sqlDB, dir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "ledger migrations applied")
	}
	return nil
}

// lockMigrations holds a session advisory lock on a dedicated connection
// until the returned func runs.
func lockMigrations(ctx context.Context, sqlDB *sql.DB) (func(), error) {
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve migration connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", autoRunLockKey); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", autoRunLockKey)
		_ = conn.Close()
	}, nil
}
