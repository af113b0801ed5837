// Package history maintains the bounded rolling price/volume window kept
// per (symbol, market) and the derived change/volume-ratio queries the
// alert engine evaluates against.
package history

import (
	"time"

	"github.com/coinwhistle/sentinel/common"
)

type sample struct {
	at    time.Time
	price float64
}

type volSample struct {
	at     time.Time
	volume float64
}

// PriceHistory is a fixed-capacity FIFO of (timestamp, price) and
// (timestamp, volume) samples for one symbol+market. Insertion is O(1);
// the oldest sample is evicted once the capacity is reached.
type PriceHistory struct {
	prices  []sample
	volumes []volSample
	cap     int
}

// New returns an empty history bounded at common.PriceHistoryCapacity.
func New() *PriceHistory {
	return &PriceHistory{cap: common.PriceHistoryCapacity}
}

// Add appends a new (price, volume) observation at `at`, evicting the
// oldest sample if the history is at capacity.
func (h *PriceHistory) Add(at time.Time, price, volume float64) {
	h.prices = appendBounded(h.prices, sample{at: at, price: price}, h.cap)
	h.volumes = appendVolBounded(h.volumes, volSample{at: at, volume: volume}, h.cap)
}

func appendBounded(s []sample, v sample, cap int) []sample {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

func appendVolBounded(s []volSample, v volSample, cap int) []volSample {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

// Len returns the number of retained price samples.
func (h *PriceHistory) Len() int { return len(h.prices) }

// Change returns the percent change over the given number of minutes:
// (current - baseline) / baseline * 100, where baseline is the most recent
// price at or before now-minutes, falling back to the earliest retained
// price if none qualifies. The second return is false when fewer than two
// samples are retained; callers default to 0.
func (h *PriceHistory) Change(now time.Time, minutes float64) (float64, bool) {
	if len(h.prices) < 2 {
		return 0, false
	}

	current := h.prices[len(h.prices)-1].price
	cutoff := now.Add(-time.Duration(minutes * float64(time.Minute)))

	baseline := h.prices[0].price
	for _, s := range h.prices {
		if s.at.After(cutoff) {
			break
		}
		baseline = s.price
	}

	if baseline == 0 {
		return 0, false
	}
	return (current - baseline) / baseline * 100, true
}

// VolumeRatio returns mean(volumes after now-minutes) / mean(volumes at or
// before now-minutes). It defaults to 1.0 when either partition is empty or
// when fewer than 10 samples are retained overall.
func (h *PriceHistory) VolumeRatio(now time.Time, minutes float64) float64 {
	if len(h.volumes) < 10 {
		return 1.0
	}

	cutoff := now.Add(-time.Duration(minutes * float64(time.Minute)))

	var recentSum, recentN, olderSum, olderN float64
	for _, v := range h.volumes {
		if v.at.After(cutoff) {
			recentSum += v.volume
			recentN++
		} else {
			olderSum += v.volume
			olderN++
		}
	}

	if recentN == 0 || olderN == 0 {
		return 1.0
	}

	olderMean := olderSum / olderN
	if olderMean == 0 {
		return 1.0
	}
	return (recentSum / recentN) / olderMean
}
