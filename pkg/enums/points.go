package enums

import "fmt"

// PointsTransactionKind classifies an immutable points ledger entry.
type PointsTransactionKind string

const (
	PointsEarned   PointsTransactionKind = "earned"
	PointsRedeemed PointsTransactionKind = "redeemed"
)

// IsValid reports whether the kind is earned or redeemed.
func (k PointsTransactionKind) IsValid() bool {
	return k == PointsEarned || k == PointsRedeemed
}

// Sign returns +1 for credits and -1 for debits.
func (k PointsTransactionKind) Sign() int64 {
	if k == PointsRedeemed {
		return -1
	}
	return 1
}

func ParsePointsTransactionKind(value string) (PointsTransactionKind, error) {
	kind := PointsTransactionKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid points transaction kind %q", value)
	}
	return kind, nil
}
