package userconfig

import "github.com/coinwhistle/sentinel/common"

// Profile names a threshold preset used to pre-fill a new UserConfig. It
// is a construction-time convenience only: once applied,
// the resulting UserConfig carries concrete numeric thresholds and the
// engine never looks at the profile name again.
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileModerate     Profile = "moderate"
	ProfileAggressive   Profile = "aggressive"
	ProfileCustom       Profile = "custom"
)

// ApplyProfile returns the PriceThresholds, VolumeThresholds, and
// SpreadThresholds a fresh UserConfig should start from for the named
// profile. ProfileCustom returns the moderate baseline, since "custom"
// means the caller overrides fields individually afterward.
func ApplyProfile(p Profile) (PriceThresholds, VolumeThresholds, SpreadThresholds) {
	switch p {
	case ProfileConservative:
		return PriceThresholds{Pump1m: 8, Pump5m: 12, Pump15m: 20, Pump1h: 28},
			VolumeThresholds{SpikeRatio: 20},
			SpreadThresholds{SpotFuturesPercent: 3.5, FundingHighPercent: 0.4, FundingLowPercent: -0.4}
	case ProfileAggressive:
		return PriceThresholds{Pump1m: 3, Pump5m: 5, Pump15m: 8, Pump1h: 12},
			VolumeThresholds{SpikeRatio: 6},
			SpreadThresholds{SpotFuturesPercent: 1.2, FundingHighPercent: 0.12, FundingLowPercent: -0.12}
	default: // moderate, custom
		return PriceThresholds{Pump1m: 6, Pump5m: 9, Pump15m: 15, Pump1h: 21},
			VolumeThresholds{SpikeRatio: 12},
			SpreadThresholds{SpotFuturesPercent: 2.5, FundingHighPercent: 0.25, FundingLowPercent: -0.25}
	}
}

// NewDefault returns a UserConfig pre-filled with the moderate profile and
// otherwise-sane defaults, ready for a boundary layer to adjust per-field.
func NewDefault(userID string) *UserConfig {
	price, volume, spread := ApplyProfile(ProfileModerate)
	return &UserConfig{
		UserID:              userID,
		Active:              true,
		TimezoneOffsetHours: 0,
		Price:               price,
		Volume:              volume,
		Spread:              spread,
		BigOrder:            BigOrderThresholds{Enabled: true, MaxPriceDeviation: 5},
		EnableSpot:          true,
		EnableFutures:       true,
		EnablePrice:         true,
		EnableSpread:        true,
		EnableVolume:        true,
		EnableFunding:       true,
		EnableBigOrder:      true,
		CooldownSeconds:     300,
		WatchMode:           common.WatchAll,
		QuoteAsset:          "USDT",
		Mode:                common.DispatchSingle,
		Repeat:              RepeatConfig{IntervalSeconds: 60, MaxRepeats: 10},
		Night: NightWindow{
			Enabled:         true,
			StartHHMM:       "23:00",
			EndHHMM:         "07:00",
			IntervalSeconds: 15,
			MaxRepeats:      20,
			AddEmail:        true,
		},
		Channels: []common.Channel{common.ChannelChat},
	}
}
