package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/logger"
)

func TestRetentionJobPrunesOutboxAndWebhooks(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	outbox := &fakeOutboxRetentionRepo{}
	hooks := &fakeWebhookRetention{}
	job := newRetentionJob(t, outbox, hooks)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	expected := now.Add(-defaultRetentionDays * 24 * time.Hour)
	assert.True(t, outbox.lastCutoff.Equal(expected))
	assert.True(t, hooks.lastCutoff.Equal(expected))
	assert.Equal(t, 1, outbox.called)
}

func TestRetentionJobKeepsGoingAfterOutboxError(t *testing.T) {
	outbox := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	hooks := &fakeWebhookRetention{}
	job := newRetentionJob(t, outbox, hooks)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox retention")
	assert.Equal(t, 1, hooks.called)
}

func newRetentionJob(t *testing.T, outbox *fakeOutboxRetentionRepo, hooks *fakeWebhookRetention) *retentionJob {
	t.Helper()
	jobIface, err := NewRetentionJob(RetentionJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		DB:       passThroughTx{},
		Outbox:   outbox,
		Webhooks: hooks,
	})
	require.NoError(t, err)
	job, ok := jobIface.(*retentionJob)
	require.True(t, ok, "expected retentionJob, got %T", jobIface)
	return job
}

type fakeOutboxRetentionRepo struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type fakeWebhookRetention struct {
	lastCutoff time.Time
	called     int
}

func (f *fakeWebhookRetention) DeleteProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	return 3, nil
}

type passThroughTx struct{}

func (passThroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
