package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/pkg/logger"
)

type fakeLock struct {
	held map[string]bool
}

func newFakeLock() *fakeLock { return &fakeLock{held: map[string]bool{}} }

func (f *fakeLock) Acquire(_ context.Context, name string) (bool, error) {
	if f.held[name] {
		return false, nil
	}
	f.held[name] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, name string) error {
	delete(f.held, name)
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, lock Lock, c *clock, entries ...Entry) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(entries...),
		Lock:     lock,
		Now:      c.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "success"}
	bad := &testJob{name: "fail", err: errors.New("boom")}
	svc := newTestService(t, newFakeLock(), &clock{now: time.Now()}, Entry{Job: ok}, Entry{Job: bad})

	svc.runCycle(context.Background())
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, bad.runs)
}

func TestRunCycleHonorsCadence(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	hourly := &testJob{name: "hourly"}
	daily := &testJob{name: "daily"}
	svc := newTestService(t, newFakeLock(), c, Entry{Job: hourly, Every: time.Hour}, Entry{Job: daily, Every: 24 * time.Hour})

	svc.runCycle(context.Background())
	c.now = c.now.Add(30 * time.Minute)
	svc.runCycle(context.Background())
	assert.Equal(t, 1, hourly.runs)

	c.now = c.now.Add(30 * time.Minute)
	svc.runCycle(context.Background())
	assert.Equal(t, 2, hourly.runs)
	assert.Equal(t, 1, daily.runs)
}

func TestJobHeldElsewhereIsSkipped(t *testing.T) {
	lock := newFakeLock()
	lock.held["payout-sweep"] = true
	job := &testJob{name: "payout-sweep"}
	svc := newTestService(t, lock, &clock{now: time.Now()}, Entry{Job: job})

	svc.runCycle(context.Background())
	assert.Zero(t, job.runs)

	err := svc.RunNow(context.Background(), "payout-sweep")
	assert.Error(t, err)

	delete(lock.held, "payout-sweep")
	require.NoError(t, svc.RunNow(context.Background(), "payout-sweep"))
	assert.Equal(t, 1, job.runs)
	assert.Error(t, svc.RunNow(context.Background(), "unknown"))
}
