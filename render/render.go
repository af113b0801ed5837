// Package render turns an Alert into the subject line and HTML-ish body
// the boundary layer hands to a notification channel. Menu/keyboard/listing
// UI lives with the bot; this package is only the last-mile formatting
// step.
package render

import (
	"fmt"

	"github.com/coinwhistle/sentinel/alert"
	"github.com/coinwhistle/sentinel/common"
)

// Subject returns a short, channel-agnostic summary line.
func Subject(a *alert.Alert) string {
	return fmt.Sprintf("[%s] %s %s", a.Level, a.Type, a.Symbol)
}

// Body renders an HTML-ish message body for the chat/email channels,
// pattern-matching on the alert's data variant.
func Body(a *alert.Alert) string {
	header := fmt.Sprintf("<b>%s</b> %s (%s)\n", a.Symbol, a.Type, a.Level)

	switch d := a.Data.(type) {
	case alert.PriceData:
		body := header + fmt.Sprintf("change over %dm: %.2f%%", d.HorizonMinutes, d.ChangePercent)
		if d.High24h > d.Low24h {
			pos := (d.Price - d.Low24h) / (d.High24h - d.Low24h) * 100
			body += fmt.Sprintf("\n24h range: %.6f .. %.6f (now %.0f%%)", d.Low24h, d.High24h, pos)
		}
		return body
	case alert.VolumeData:
		return header + fmt.Sprintf("volume ratio: %.2fx", d.VolumeRatio)
	case alert.SpreadData:
		return header + fmt.Sprintf("spread: %.2f%% (spot %.6f / futures %.6f)", d.SpreadPercent, d.SpotPrice, d.FuturesPrice)
	case alert.FundingData:
		return header + fmt.Sprintf("funding rate: %.4f%%", d.FundingRatePercent)
	case alert.BigOrderData:
		side := "bid"
		if a.Type == common.AlertBigAskOrder {
			side = "ask"
		}
		return header + fmt.Sprintf("%s order $%.0f at %.6f (turnover $%.0f, deviation %.2f%%)", side, d.Notional, d.RestingPrice, d.Turnover24h, d.PriceDeviationPercent)
	default:
		return header
	}
}

// MuteRestoreBody renders the single restore notification sent when a
// symbol-scoped mute expires.
func MuteRestoreBody(symbol string) string {
	return fmt.Sprintf("<b>%s</b> unmuted, alerts resumed", symbol)
}
