package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/localcommerce-settlement/internal/rewards"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

const defaultPointsAuditLimit = 100

type ledgerAuditor interface {
	FindInconsistent(ctx context.Context, limit int) ([]rewards.Reconciliation, error)
}

// NewPointsAuditJob checks that every points account still equals the sum of
// its ledger. Drift is reported, never repaired.
func NewPointsAuditJob(logg *logger.Logger, ledger ledgerAuditor, limit int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("points ledger required")
	}
	if limit <= 0 {
		limit = defaultPointsAuditLimit
	}
	return &pointsAuditJob{logg: logg, ledger: ledger, limit: limit}, nil
}

type pointsAuditJob struct {
	logg   *logger.Logger
	ledger ledgerAuditor
	limit  int
}

func (j *pointsAuditJob) Name() string { return "points-ledger-audit" }

func (j *pointsAuditJob) Run(ctx context.Context) error {
	drifted, err := j.ledger.FindInconsistent(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("points audit: %w", err)
	}
	for _, r := range drifted {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"user_id":         r.UserID.String(),
			"balance":         r.Balance,
			"total_earned":    r.TotalEarned,
			"total_redeemed":  r.TotalRedeemed,
			"ledger_earned":   r.LedgerEarned,
			"ledger_redeemed": r.LedgerRedeemed,
		}), "points account drifted from ledger")
	}
	if len(drifted) > 0 {
		return fmt.Errorf("points audit: %d accounts inconsistent", len(drifted))
	}
	return nil
}
