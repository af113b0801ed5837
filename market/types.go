// Package market ingests live spot and futures telemetry from the upstream
// exchange: REST-seeded symbol universes, 24h/funding snapshots, streaming
// tick coalescing, rolling price history, and on-demand order-book depth
// sampling. Everything else in this module consumes its derived events.
package market

import (
	"time"

	"github.com/coinwhistle/sentinel/common"
)

// Ticker is the per-symbol, per-market snapshot handed to the alert engine
// on every processed tick.
type Ticker struct {
	Symbol   string
	Market   common.MarketType
	Price    float64

	Change1m  float64
	Change5m  float64
	Change15m float64
	Change1h  float64
	Change24h float64

	Volume24hQuote    float64
	VolumeChangeRatio float64

	High24h float64
	Low24h  float64

	Timestamp time.Time
}

// Spread pairs a symbol's spot and futures prices, requiring both sides to
// be currently known.
type Spread struct {
	Symbol             string
	SpotPrice          float64
	FuturesPrice       float64
	SpreadPercent      float64
	FundingRatePercent float64
	Timestamp          time.Time
}

// OrderBookLevel is one resting price/quantity pair on one side of a book.
type OrderBookLevel struct {
	Price    float64
	Quantity float64
}

// Value is the notional value (price*quantity) this level contributes to
// its side's total.
func (l OrderBookLevel) Value() float64 { return l.Price * l.Quantity }

// OrderBook is a sampled depth snapshot: bids ordered descending by price,
// asks ordered ascending by price.
type OrderBook struct {
	Symbol string
	Market common.MarketType

	Bids []OrderBookLevel
	Asks []OrderBookLevel

	MaxBidOrderValue float64
	MaxBidPrice      float64
	MaxAskOrderValue float64
	MaxAskPrice      float64

	TotalBidValue float64
	TotalAskValue float64
	BidAskRatio   float64

	Timestamp time.Time
}

// BuildOrderBook aggregates raw bid/ask levels into an OrderBook, computing
// the single heaviest resting level on each side and the side totals.
func BuildOrderBook(symbol string, mkt common.MarketType, bids, asks []OrderBookLevel, now time.Time) OrderBook {
	ob := OrderBook{
		Symbol:    symbol,
		Market:    mkt,
		Bids:      bids,
		Asks:      asks,
		Timestamp: now,
	}

	for _, lvl := range bids {
		v := lvl.Value()
		ob.TotalBidValue += v
		if v > ob.MaxBidOrderValue {
			ob.MaxBidOrderValue = v
			ob.MaxBidPrice = lvl.Price
		}
	}
	for _, lvl := range asks {
		v := lvl.Value()
		ob.TotalAskValue += v
		if v > ob.MaxAskOrderValue {
			ob.MaxAskOrderValue = v
			ob.MaxAskPrice = lvl.Price
		}
	}

	if ob.TotalAskValue > 0 {
		ob.BidAskRatio = ob.TotalBidValue / ob.TotalAskValue
	}

	return ob
}

// snapshot24h is the REST-seeded per-symbol 24h statistics window,
// refreshed at startup and every 60 seconds. Trades is populated for spot
// only.
type snapshot24h struct {
	Price         float64
	Change        float64
	ChangePercent float64
	High          float64
	Low           float64
	Volume        float64
	QuoteVolume   float64
	Trades        int64
}

// fundingSnapshot is the REST-seeded per-symbol funding-rate window
// (futures only).
type fundingSnapshot struct {
	FundingRatePercent float64
	NextFundingTime    time.Time
}

// Sink receives derived market events. Implementations must not block for
// long; the alert engine satisfies this interface and does its own per-user
// fan-out synchronously on the calling goroutine, keeping per-symbol tick
// processing strictly sequential.
type Sink interface {
	OnTicker(t Ticker)
	OnSpread(s Spread)
	OnOrderBook(ob OrderBook)
}
