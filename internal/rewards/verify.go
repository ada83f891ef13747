package rewards

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/localcommerce-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/localcommerce-settlement/pkg/errors"
)

// Reconciliation compares a cached account with the sum of its ledger entries.
type Reconciliation struct {
	UserID         uuid.UUID `json:"user_id"`
	Balance        int64     `json:"balance"`
	TotalEarned    int64     `json:"total_earned"`
	TotalRedeemed  int64     `json:"total_redeemed"`
	LedgerEarned   int64     `json:"ledger_earned"`
	LedgerRedeemed int64     `json:"ledger_redeemed"`
}

// LedgerBalance is the signed sum of the user's ledger entries.
func (r Reconciliation) LedgerBalance() int64 {
	return r.LedgerEarned - r.LedgerRedeemed
}

// Consistent reports whether balance == earned - redeemed == Σ ledger.
func (r Reconciliation) Consistent() bool {
	return r.Balance == r.TotalEarned-r.TotalRedeemed &&
		r.TotalEarned == r.LedgerEarned &&
		r.TotalRedeemed == r.LedgerRedeemed
}

const reconciliationQuery = `
	SELECT
		a.user_id AS user_id,
		a.balance AS balance,
		a.total_earned AS total_earned,
		a.total_redeemed AS total_redeemed,
		COALESCE(SUM(CASE WHEN t.kind = ? THEN t.points ELSE 0 END), 0) AS ledger_earned,
		COALESCE(SUM(CASE WHEN t.kind = ? THEN t.points ELSE 0 END), 0) AS ledger_redeemed
	FROM points_accounts a
	LEFT JOIN points_transactions t ON t.user_id = a.user_id
`

// Verify recomputes one user's ledger sums.
func (l *Ledger) Verify(ctx context.Context, userID uuid.UUID) (Reconciliation, error) {
	var rows []Reconciliation
	err := l.db.WithContext(ctx).
		Raw(reconciliationQuery+` WHERE a.user_id = ? GROUP BY a.user_id, a.balance, a.total_earned, a.total_redeemed`,
			enums.PointsEarned, enums.PointsRedeemed, userID).
		Scan(&rows).Error
	if err != nil {
		return Reconciliation{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify points ledger")
	}
	if len(rows) == 0 {
		return Reconciliation{UserID: userID}, nil
	}
	return rows[0], nil
}

// FindInconsistent scans every account and returns the ones whose cache drifted
// from the ledger, up to limit rows.
func (l *Ledger) FindInconsistent(ctx context.Context, limit int) ([]Reconciliation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Reconciliation
	err := l.db.WithContext(ctx).
		Raw(reconciliationQuery+`
			GROUP BY a.user_id, a.balance, a.total_earned, a.total_redeemed
			HAVING a.total_earned <> COALESCE(SUM(CASE WHEN t.kind = ? THEN t.points ELSE 0 END), 0)
				OR a.total_redeemed <> COALESCE(SUM(CASE WHEN t.kind = ? THEN t.points ELSE 0 END), 0)
				OR a.balance <> a.total_earned - a.total_redeemed
			LIMIT ?`,
			enums.PointsEarned, enums.PointsRedeemed, enums.PointsEarned, enums.PointsRedeemed, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan points ledger")
	}
	return rows, nil
}
