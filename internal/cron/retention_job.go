package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/logger"
)

const defaultRetentionDays = 30

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type webhookRetentionStore interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RetentionJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Outbox   outboxRetentionRepo
	Webhooks webhookRetentionStore
	Days     int
}

// NewRetentionJob prunes published outbox events and processed webhook
// deliveries. Ledger records are never pruned.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	days := params.Days
	if days <= 0 {
		days = defaultRetentionDays
	}
	return &retentionJob{
		logg:     params.Logger,
		db:       params.DB,
		outbox:   params.Outbox,
		webhooks: params.Webhooks,
		days:     days,
		now:      time.Now,
	}, nil
}

type retentionJob struct {
	logg     *logger.Logger
	db       txRunner
	outbox   outboxRetentionRepo
	webhooks webhookRetentionStore
	days     int
	now      func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.days) * 24 * time.Hour)
	var outboxDeleted, webhooksDeleted int64
	var errs error

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.outbox.DeletePublishedBefore(ctx, tx, cutoff)
		outboxDeleted = rows
		return err
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("outbox retention: %w", err))
	}
	if j.webhooks != nil {
		rows, err := j.webhooks.DeleteProcessedBefore(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("webhook retention: %w", err))
		}
		webhooksDeleted = rows
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"retention_days":   j.days,
		"outbox_deleted":   outboxDeleted,
		"webhooks_deleted": webhooksDeleted,
	}), "retention cleanup complete")
	return errs
}
