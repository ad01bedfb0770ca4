package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/internal/billing"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/internal/payouts"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

type fakeSweeper struct {
	result payouts.SweepResult
	err    error
	calls  int
}

func (f *fakeSweeper) Sweep(context.Context) (payouts.SweepResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeRenewer struct {
	result billing.RenewalResult
	err    error
}

func (f *fakeRenewer) RenewDue(context.Context) (billing.RenewalResult, error) {
	return f.result, f.err
}

type fakeChecker struct {
	imbalances []ledger.Imbalance
}

func (f *fakeChecker) CheckConservation(context.Context) ([]ledger.Imbalance, error) {
	return f.imbalances, nil
}

func testLogger() *logger.Logger { return logger.New(logger.Options{ServiceName: "cron-test"}) }

func TestPayoutSweepJobPropagatesPartialFailure(t *testing.T) {
	sweeper := &fakeSweeper{result: payouts.SweepResult{Sent: 2, Failed: 1}, err: errors.New("one seller failed")}
	job, err := NewPayoutSweepJob(testLogger(), sweeper)
	require.NoError(t, err)
	assert.Equal(t, "payout-sweep", job.Name())

	assert.Error(t, job.Run(context.Background()))
	assert.Equal(t, 1, sweeper.calls)

	_, err = NewPayoutSweepJob(testLogger(), nil)
	assert.Error(t, err)
}

func TestRenewalJob(t *testing.T) {
	job, err := NewRenewalJob(testLogger(), &fakeRenewer{result: billing.RenewalResult{Paid: 3}})
	require.NoError(t, err)
	assert.NoError(t, job.Run(context.Background()))

	job, err = NewRenewalJob(testLogger(), &fakeRenewer{err: errors.New("db down")})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
}

func TestConservationAuditFailsOnImbalance(t *testing.T) {
	checker := &fakeChecker{}
	job, err := NewConservationAuditJob(testLogger(), checker)
	require.NoError(t, err)
	assert.NoError(t, job.Run(context.Background()))

	checker.imbalances = []ledger.Imbalance{{
		Account:  enums.AccountFund,
		Currency: enums.CurrencyUSD,
		Inflow:   decimal.RequireFromString("10.00"),
		Outflow:  decimal.RequireFromString("9.00"),
	}}
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 pass-through")
}
