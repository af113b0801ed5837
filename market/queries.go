package market

import "sort"

// Snapshot is a read-only view of one symbol's current 24h/funding state,
// exposed to the boundary layer for derived "top N" queries. These queries
// are never consulted by the core evaluation path.
type Snapshot struct {
	Symbol             string
	ChangePercent      float64
	QuoteVolume        float64
	SpreadPercent      float64
	FundingRatePercent float64
}

// sortedBy returns a copy of in sorted by key descending (or ascending when
// desc is false), breaking ties by symbol ascending for determinism.
func sortedBy(in []Snapshot, desc bool, key func(Snapshot) float64) []Snapshot {
	out := make([]Snapshot, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if a == b {
			return out[i].Symbol < out[j].Symbol
		}
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

func filterMinVolume(in []Snapshot, minQuoteVolume float64) []Snapshot {
	if minQuoteVolume <= 0 {
		return in
	}
	out := make([]Snapshot, 0, len(in))
	for _, s := range in {
		if s.QuoteVolume >= minQuoteVolume {
			out = append(out, s)
		}
	}
	return out
}

func top(in []Snapshot, n int) []Snapshot {
	if n <= 0 || n > len(in) {
		n = len(in)
	}
	return in[:n]
}

// TopGainers returns the n symbols with the largest positive change_percent.
func TopGainers(in []Snapshot, minQuoteVolume float64, n int) []Snapshot {
	return top(sortedBy(filterMinVolume(in, minQuoteVolume), true, func(s Snapshot) float64 { return s.ChangePercent }), n)
}

// TopLosers returns the n symbols with the most negative change_percent,
// sorted ascending (most negative first).
func TopLosers(in []Snapshot, minQuoteVolume float64, n int) []Snapshot {
	return top(sortedBy(filterMinVolume(in, minQuoteVolume), false, func(s Snapshot) float64 { return s.ChangePercent }), n)
}

// TopVolume returns the n symbols with the largest 24h quote volume.
func TopVolume(in []Snapshot, minQuoteVolume float64, n int) []Snapshot {
	return top(sortedBy(filterMinVolume(in, minQuoteVolume), true, func(s Snapshot) float64 { return s.QuoteVolume }), n)
}

// TopSpreads returns the n symbols with the largest absolute spot/futures
// spread.
func TopSpreads(in []Snapshot, minQuoteVolume float64, n int) []Snapshot {
	return top(sortedBy(filterMinVolume(in, minQuoteVolume), true, func(s Snapshot) float64 { return absf(s.SpreadPercent) }), n)
}

// TopFunding returns the n symbols with the highest funding rate.
func TopFunding(in []Snapshot, minQuoteVolume float64, n int) []Snapshot {
	return top(sortedBy(filterMinVolume(in, minQuoteVolume), true, func(s Snapshot) float64 { return s.FundingRatePercent }), n)
}

// BottomFunding returns the n symbols with the lowest (most negative)
// funding rate.
func BottomFunding(in []Snapshot, minQuoteVolume float64, n int) []Snapshot {
	return top(sortedBy(filterMinVolume(in, minQuoteVolume), false, func(s Snapshot) float64 { return s.FundingRatePercent }), n)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
