package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/localcommerce-settlement/internal/reconciliation"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type sweeper interface {
	Sweep(ctx context.Context) (reconciliation.SweepReport, error)
}

// NewReconciliationJob polls providers for orders stuck in awaiting_payment
// and settles or cancels them through the orchestrator.
func NewReconciliationJob(logg *logger.Logger, svc sweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("reconciliation service required")
	}
	return &reconciliationJob{logg: logg, svc: svc}, nil
}

type reconciliationJob struct {
	logg *logger.Logger
	svc  sweeper
}

func (j *reconciliationJob) Name() string { return "payment-reconciliation" }

// Run fails the job when any order could not be reconciled; the orders that
// did reconcile stay reconciled.
func (j *reconciliationJob) Run(ctx context.Context) error {
	report, err := j.svc.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation sweep (%d of %d failed): %w", report.Failed, report.Checked, err)
	}
	if report.Settled+report.Cancelled > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"settled":   report.Settled,
			"cancelled": report.Cancelled,
		}), "reconciliation recovered missed webhooks")
	}
	return nil
}
