package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval is the tick; each job still runs only when its own cadence
	// has elapsed.
	Interval time.Duration
	Now      func() time.Time
}

// Service executes registered cron jobs on their own cadence.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
	lastRun  map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      now,
		lastRun:  map[string]time.Time{},
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// RunNow runs the named job immediately, ignoring its cadence but not the
// cross-worker lock.
func (s *Service) RunNow(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	ran, err := s.runLocked(ctx, job)
	if err != nil {
		return err
	}
	if !ran {
		return fmt.Errorf("job %q is running on another worker", name)
	}
	return nil
}

func (s *Service) runCycle(ctx context.Context) {
	for _, entry := range s.registry.Entries() {
		if ctx.Err() != nil {
			return
		}
		if !s.due(entry) {
			continue
		}
		if _, err := s.runLocked(ctx, entry.Job); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "job", entry.Job.Name()), "scheduled run failed", err)
		}
	}
}

func (s *Service) due(entry Entry) bool {
	last, ok := s.lastRun[entry.Job.Name()]
	if !ok || entry.Every <= 0 {
		return true
	}
	return !s.now().Before(last.Add(entry.Every))
}

// runLocked reports whether the job ran. Job failures are logged and counted
// but not returned; lock failures are returned.
func (s *Service) runLocked(ctx context.Context, job Job) (bool, error) {
	name := job.Name()
	locked, err := s.lock.Acquire(ctx, name)
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(s.logg.WithField(ctx, "job", name), "job is running on another worker; skipping")
		s.metrics.Skipped(name)
		return false, nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx, name); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	s.lastRun[name] = s.now()
	s.runJob(ctx, job)
	return true, nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.Observe(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
