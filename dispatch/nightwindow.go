package dispatch

import (
	"strconv"
	"strings"
	"time"

	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/userconfig"
)

// parseHHMM converts "23:00" into minutes since local midnight.
func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// inNightWindow reports whether now, shifted by the user's timezone
// offset, falls within the configured night window. start <= end means
// start <= now <= end; start > end wraps past midnight and means now >=
// start or now <= end.
func inNightWindow(now time.Time, tzOffsetHours int, night userconfig.NightWindow) bool {
	if !night.Enabled {
		return false
	}
	start, ok := parseHHMM(night.StartHHMM)
	if !ok {
		return false
	}
	end, ok := parseHHMM(night.EndHHMM)
	if !ok {
		return false
	}

	local := now.UTC().Add(time.Duration(tzOffsetHours) * time.Hour)
	nowMinutes := local.Hour()*60 + local.Minute()

	if start <= end {
		return nowMinutes >= start && nowMinutes <= end
	}
	return nowMinutes >= start || nowMinutes <= end
}

// effectiveMode returns REPEAT if either the user's base mode is REPEAT or
// night mode is currently active.
func effectiveMode(u *userconfig.UserConfig, now time.Time) common.DispatchMode {
	if u.Mode == common.DispatchRepeat {
		return common.DispatchRepeat
	}
	if inNightWindow(now, u.TimezoneOffsetHours, u.Night) {
		return common.DispatchRepeat
	}
	return common.DispatchSingle
}

// effectiveRepeatParams returns the interval/max-repeats/channel set that
// applies right now: the night config (with channel augmentation) during
// the night window, otherwise the user's base repeat config.
func effectiveRepeatParams(u *userconfig.UserConfig, now time.Time) (intervalSeconds int, maxRepeats int, channels []common.Channel) {
	channels = append([]common.Channel(nil), u.Channels...)

	if inNightWindow(now, u.TimezoneOffsetHours, u.Night) {
		if u.Night.AddEmail && !containsChannel(channels, common.ChannelEmail) {
			channels = append(channels, common.ChannelEmail)
		}
		return u.Night.IntervalSeconds, u.Night.MaxRepeats, channels
	}
	return u.Repeat.IntervalSeconds, u.Repeat.MaxRepeats, channels
}

func containsChannel(channels []common.Channel, c common.Channel) bool {
	for _, ch := range channels {
		if ch == c {
			return true
		}
	}
	return false
}
