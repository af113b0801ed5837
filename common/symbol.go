package common

import "strings"

// BaseAsset strips a known quote-asset suffix from a trading symbol, e.g.
// BaseAsset("BTCUSDT", "USDT") == "BTC". Whitelist/blacklist matching
// compares both the full symbol and the base asset.
func BaseAsset(symbol, quoteAsset string) string {
	upper := strings.ToUpper(symbol)
	quote := strings.ToUpper(quoteAsset)
	if quote != "" && strings.HasSuffix(upper, quote) {
		return strings.TrimSuffix(upper, quote)
	}
	return upper
}

// SymbolMatches reports whether candidate matches symbol either exactly or
// by base asset (both upper-cased, suffix-stripped by quoteAsset).
func SymbolMatches(symbol, candidate, quoteAsset string) bool {
	symbol = strings.ToUpper(symbol)
	candidate = strings.ToUpper(candidate)
	if symbol == candidate {
		return true
	}
	return BaseAsset(symbol, quoteAsset) == BaseAsset(candidate, quoteAsset)
}
