package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgerd/internal/cron"
	"github.com/angelmondragon/ledgerd/internal/wiring"
	"github.com/angelmondragon/ledgerd/pkg/bigquery"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
	"github.com/angelmondragon/ledgerd/pkg/migrate"
	"github.com/angelmondragon/ledgerd/pkg/redis"
)


func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	services, err := wiring.Build(ctx, wiring.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to build services", err)
		os.Exit(1)
	}

	registry, closeJobs, err := buildRegistry(ctx, cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}
	defer closeJobs()

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron", lockEnv(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        len(registry.Entries()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry registers the ledger jobs with their configured cadence.
// The export job is added only when BigQuery is configured.
func buildRegistry(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *wiring.Services) (*cron.Registry, func(), error) {
	registry := cron.NewRegistry()
	closer := func() {}

	sweep, err := cron.NewPayoutSweepJob(logg, services.Payouts)
	if err != nil {
		return nil, closer, err
	}
	registry.Register(sweep, cfg.Cron.PayoutSweepEvery)

	renewal, err := cron.NewRenewalJob(logg, services.Billing)
	if err != nil {
		return nil, closer, err
	}
	registry.Register(renewal, cfg.Cron.RenewalEvery)

	audit, err := cron.NewConservationAuditJob(logg, services.Ledger)
	if err != nil {
		return nil, closer, err
	}
	registry.Register(audit, cfg.Cron.AuditEvery)

	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:   logg,
		DB:       dbClient,
		Outbox:   services.OutboxRepo,
		Webhooks: services.Webhooks,
		Days:     cfg.Cron.RetentionDays,
	})
	if err != nil {
		return nil, closer, err
	}
	registry.Register(retention, cfg.Cron.RetentionEvery)

	if cfg.BigQuery.Enabled() {
		bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			return nil, closer, fmt.Errorf("bootstrap bigquery: %w", err)
		}
		closer = func() {
			if err := bq.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery", err)
			}
		}
		export, err := cron.NewLedgerExportJob(cron.LedgerExportJobParams{
			Logger:    logg,
			Ledger:    services.Ledger,
			Warehouse: bq,
			Table:     cfg.BigQuery.LedgerTable,
			BatchSize: cfg.Cron.ExportBatchSize,
		})
		if err != nil {
			return nil, closer, err
		}
		registry.Register(export, cfg.Cron.ExportEvery)
	} else {
		logg.Warn(ctx, "bigquery not configured; ledger export disabled")
	}
	return registry, closer, nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
