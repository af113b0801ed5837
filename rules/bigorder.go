package rules

import (
	"github.com/shopspring/decimal"

	"github.com/coinwhistle/sentinel/common"
)

// orderTier is one liquidity bucket's absolute-dollar and ratio floor for
// the big-resting-order detector, keyed by 24h quote turnover.
type orderTier struct {
	maxTurnover decimal.Decimal // exclusive upper bound; zero means "no bound" (mega)
	minAbs      decimal.Decimal
	minRatio    decimal.Decimal // percent, i.e. 20 means 20%
}

var orderTiers = []orderTier{
	{maxTurnover: decimal.NewFromInt(10_000_000), minAbs: decimal.NewFromInt(500_000), minRatio: decimal.NewFromInt(20)},
	{maxTurnover: decimal.NewFromInt(100_000_000), minAbs: decimal.NewFromInt(2_000_000), minRatio: decimal.NewFromInt(10)},
	{maxTurnover: decimal.NewFromInt(1_000_000_000), minAbs: decimal.NewFromInt(5_000_000), minRatio: decimal.NewFromInt(5)},
}

var megaTier = orderTier{minAbs: decimal.NewFromInt(10_000_000), minRatio: decimal.NewFromInt(2)}

// tierFor resolves the liquidity bucket for a given 24h quote turnover.
func tierFor(turnover decimal.Decimal) orderTier {
	for _, t := range orderTiers {
		if turnover.LessThan(t.maxTurnover) {
			return t
		}
	}
	return megaTier
}

// BigOrderThreshold returns the minimum notional that counts as "big" for a
// symbol with the given 24h quote turnover: max(min_abs, turnover*min_ratio/100).
// When turnover <= 0, only the small-tier absolute floor applies.
func BigOrderThreshold(turnover24h float64) float64 {
	turnover := decimal.NewFromFloat(turnover24h)
	if turnover.LessThanOrEqual(decimal.Zero) {
		return orderTiers[0].minAbs.InexactFloat64()
	}

	t := tierFor(turnover)
	ratioFloor := turnover.Mul(t.minRatio).Div(decimal.NewFromInt(100))

	threshold := t.minAbs
	if ratioFloor.GreaterThan(threshold) {
		threshold = ratioFloor
	}
	return threshold.InexactFloat64()
}

// IsBigOrder reports whether a resting order of the given notional counts
// as big for a symbol with the given 24h quote turnover.
func IsBigOrder(notional, turnover24h float64) bool {
	return notional >= BigOrderThreshold(turnover24h)
}

// BigOrderLevel classifies a big order's severity from its notional and the
// symbol's 24h quote turnover, using ratio R=(N/V)*100: WARNING at R≥10 or
// N≥5M, CRITICAL at R≥20 or N≥20M, EXTREME at R≥50 or N≥50M.
func BigOrderLevel(notional, turnover24h float64) common.AlertLevel {
	var ratio float64
	if turnover24h > 0 {
		ratio = notional / turnover24h * 100
	}

	switch {
	case ratio >= 50 || notional >= 50_000_000:
		return common.LevelExtreme
	case ratio >= 20 || notional >= 20_000_000:
		return common.LevelCritical
	case ratio >= 10 || notional >= 5_000_000:
		return common.LevelWarning
	default:
		return common.LevelInfo
	}
}
