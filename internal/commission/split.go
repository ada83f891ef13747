package commission

import "github.com/shopspring/decimal"

// Split is the division of a settled amount between platform and business.
type Split struct {
	CommissionCents     int64
	BusinessAmountCents int64
}

// SplitAmount rounds the commission half-up to the minor unit and gives the
// business the remainder, so the two parts always sum to totalCents.
func SplitAmount(totalCents int64, rate decimal.Decimal) Split {
	commission := decimal.NewFromInt(totalCents).Mul(rate).Round(0).IntPart()
	if commission < 0 {
		commission = 0
	}
	if commission > totalCents && totalCents >= 0 {
		commission = totalCents
	}
	return Split{CommissionCents: commission, BusinessAmountCents: totalCents - commission}
}
