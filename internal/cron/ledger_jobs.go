package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/ledgerd/internal/billing"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/internal/payouts"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

type payoutSweeper interface {
	Sweep(ctx context.Context) (payouts.SweepResult, error)
}

type renewer interface {
	RenewDue(ctx context.Context) (billing.RenewalResult, error)
}

type conservationChecker interface {
	CheckConservation(ctx context.Context) ([]ledger.Imbalance, error)
}

// NewPayoutSweepJob pays every seller with completed, unpaid work.
func NewPayoutSweepJob(logg *logger.Logger, sweeper payoutSweeper) (Job, error) {
	if logg == nil || sweeper == nil {
		return nil, fmt.Errorf("logger and payout service required")
	}
	return &payoutSweepJob{logg: logg, sweeper: sweeper}, nil
}

type payoutSweepJob struct {
	logg    *logger.Logger
	sweeper payoutSweeper
}

func (j *payoutSweepJob) Name() string { return "payout-sweep" }

func (j *payoutSweepJob) Run(ctx context.Context) error {
	result, err := j.sweeper.Sweep(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"sent":    result.Sent,
		"failed":  result.Failed,
		"pending": result.Pending,
		"skipped": result.Skipped,
	}), "payout sweep finished")
	return err
}

// NewRenewalJob bills every subscription whose term has ended.
func NewRenewalJob(logg *logger.Logger, svc renewer) (Job, error) {
	if logg == nil || svc == nil {
		return nil, fmt.Errorf("logger and billing service required")
	}
	return &renewalJob{logg: logg, svc: svc}, nil
}

type renewalJob struct {
	logg *logger.Logger
	svc  renewer
}

func (j *renewalJob) Name() string { return "subscription-renewal" }

func (j *renewalJob) Run(ctx context.Context) error {
	result, err := j.svc.RenewDue(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"paid":    result.Paid,
		"failed":  result.Failed,
		"pending": result.Pending,
		"voided":  result.Voided,
	}), "subscription renewal finished")
	return err
}

// NewConservationAuditJob fails when a pass-through account does not net
// to zero.
func NewConservationAuditJob(logg *logger.Logger, checker conservationChecker) (Job, error) {
	if logg == nil || checker == nil {
		return nil, fmt.Errorf("logger and ledger required")
	}
	return &conservationAuditJob{logg: logg, checker: checker}, nil
}

type conservationAuditJob struct {
	logg    *logger.Logger
	checker conservationChecker
}

func (j *conservationAuditJob) Name() string { return "conservation-audit" }

func (j *conservationAuditJob) Run(ctx context.Context) error {
	imbalances, err := j.checker.CheckConservation(ctx)
	if err != nil {
		return err
	}
	for _, imb := range imbalances {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"account":    imb.Account,
			"currency":   imb.Currency,
			"inflow":     imb.Inflow.String(),
			"outflow":    imb.Outflow.String(),
			"difference": imb.Difference().String(),
		}), "pass-through account out of balance")
	}
	if len(imbalances) > 0 {
		return fmt.Errorf("%d pass-through balances do not net to zero", len(imbalances))
	}
	return nil
}
