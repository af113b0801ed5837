// Package userconfig holds the external-owned, per-user configuration the
// core reads: thresholds, filters, channels, timezone, alert mode, and
// watch lists. Persistence and CRUD for these records are a boundary
// concern; this package owns only the type, a read-through cache, and a
// minimal file-backed store implementation.
package userconfig

import "github.com/coinwhistle/sentinel/common"

// PriceThresholds carries the symmetric pump/dump magnitude for each of
// the four evaluated horizons. A horizon "fires" when the observed change's
// absolute value meets the configured magnitude; severity is then
// classified by the fixed global buckets in rules.PriceChangeLevel.
type PriceThresholds struct {
	Pump1m  float64
	Pump5m  float64
	Pump15m float64
	Pump1h  float64
}

// SpreadThresholds gates spot-vs-futures spread and funding-rate alerts.
type SpreadThresholds struct {
	SpotFuturesPercent float64
	FundingHighPercent float64
	FundingLowPercent  float64
}

// VolumeThresholds gates the volume-spike alert.
type VolumeThresholds struct {
	SpikeRatio float64
}

// BigOrderThresholds toggles and bounds the resting-order detector. The
// tiered absolute/ratio floors themselves are fixed, pure classification
// (rules.BigOrderThreshold); this struct only carries an Enabled flag and
// the maximum allowed price deviation. The alert engine gates the detector
// on UserConfig.EnableBigOrder and does not read Enabled.
type BigOrderThresholds struct {
	Enabled           bool
	MaxPriceDeviation float64 // percent; default 5
}

// RepeatConfig is the user's base repeat cadence, used when effective mode
// is REPEAT outside the night window.
type RepeatConfig struct {
	IntervalSeconds int
	MaxRepeats      int
}

// NightWindow is the per-user night-mode override: a stricter repeat
// cadence (and optional channel augmentation) while local time is inside
// the window.
type NightWindow struct {
	Enabled         bool
	StartHHMM       string // "23:00"
	EndHHMM         string // "07:00"
	IntervalSeconds int
	MaxRepeats      int
	AddEmail        bool
}

// EmailConfig carries the user's SMTP destination; the SMTP transport
// itself (host/credentials) is process-wide configuration, not per-user.
type EmailConfig struct {
	Enabled   bool
	ToAddress string
}

// UserConfig is the full per-user record the alert engine and dispatcher
// read. It is owned and persisted by userconfig.Store; mutating it through
// Store.Save invalidates any engine-side user cache.
type UserConfig struct {
	UserID   string
	Active   bool
	IsAdmin  bool

	TimezoneOffsetHours int

	Price    PriceThresholds
	Spread   SpreadThresholds
	Volume   VolumeThresholds
	BigOrder BigOrderThresholds

	EnableSpot     bool
	EnableFutures  bool
	EnablePrice    bool
	EnableSpread   bool
	EnableVolume   bool
	EnableFunding  bool
	EnableBigOrder bool

	CooldownSeconds int

	WatchMode common.WatchMode
	Whitelist []string
	Blacklist []string

	MinVolume24h        float64
	VolumeFilterEnabled bool

	QuoteAsset string // e.g. "USDT"; used to strip suffixes for base-asset matching

	Mode   common.DispatchMode
	Night  NightWindow
	Repeat RepeatConfig

	Channels []common.Channel
	Email    EmailConfig
}

// ShouldMonitor reports whether symbol passes this user's watch-mode
// filter. The blacklist always suppresses, matched by full symbol or base
// asset; whitelist mode additionally requires a positive match.
func (u *UserConfig) ShouldMonitor(symbol string) bool {
	for _, blocked := range u.Blacklist {
		if common.SymbolMatches(symbol, blocked, u.QuoteAsset) {
			return false
		}
	}

	if u.WatchMode == common.WatchWhitelist {
		for _, allowed := range u.Whitelist {
			if common.SymbolMatches(symbol, allowed, u.QuoteAsset) {
				return true
			}
		}
		return false
	}

	return true
}

// ShouldMonitorVolume reports whether a symbol's 24h quote turnover clears
// this user's minimum-turnover gate, when enabled.
func (u *UserConfig) ShouldMonitorVolume(turnover24h float64) bool {
	if !u.VolumeFilterEnabled || u.MinVolume24h <= 0 {
		return true
	}
	return turnover24h >= u.MinVolume24h
}

// IsBlacklisted reports whether symbol is currently on this user's
// blacklist (used by the dispatcher's mute check).
func (u *UserConfig) IsBlacklisted(symbol string) bool {
	for _, blocked := range u.Blacklist {
		if common.SymbolMatches(symbol, blocked, u.QuoteAsset) {
			return true
		}
	}
	return false
}
