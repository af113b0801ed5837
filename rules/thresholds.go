// Package rules contains pure, deterministic classification functions:
// mapping a single numeric metric to an AlertLevel, and the big-order
// tiering classifier. Nothing here touches I/O, state, or the clock.
package rules

import "github.com/coinwhistle/sentinel/common"

// tier holds the WARNING/CRITICAL/EXTREME breakpoints for one metric,
// evaluated top-down (highest bucket wins).
type tier struct {
	warning, critical, extreme float64
}

var (
	priceChangeTier = tier{warning: 5, critical: 10, extreme: 20}
	spreadTier      = tier{warning: 1.5, critical: 3, extreme: 5}
	fundingTier     = tier{warning: 0.1, critical: 0.3, extreme: 0.5}
	volumeTier      = tier{warning: 10, critical: 20, extreme: 50}
)

func classify(abs float64, t tier) common.AlertLevel {
	switch {
	case abs >= t.extreme:
		return common.LevelExtreme
	case abs >= t.critical:
		return common.LevelCritical
	case abs >= t.warning:
		return common.LevelWarning
	default:
		return common.LevelInfo
	}
}

// PriceChangeLevel classifies |percent change| against the pump/dump
// breakpoints: WARNING≥5, CRITICAL≥10, EXTREME≥20.
func PriceChangeLevel(changePercent float64) common.AlertLevel {
	return classify(absf(changePercent), priceChangeTier)
}

// SpreadLevel classifies |spot-vs-futures spread %| against WARNING≥1.5,
// CRITICAL≥3, EXTREME≥5.
func SpreadLevel(spreadPercent float64) common.AlertLevel {
	return classify(absf(spreadPercent), spreadTier)
}

// FundingLevel classifies |funding rate %| against WARNING≥0.1,
// CRITICAL≥0.3, EXTREME≥0.5.
func FundingLevel(fundingPercent float64) common.AlertLevel {
	return classify(absf(fundingPercent), fundingTier)
}

// VolumeRatioLevel classifies a recent/older volume ratio against
// WARNING≥10, CRITICAL≥20, EXTREME≥50.
func VolumeRatioLevel(ratio float64) common.AlertLevel {
	return classify(ratio, volumeTier)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
