package alert

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/market"
	"github.com/coinwhistle/sentinel/rules"
	"github.com/coinwhistle/sentinel/userconfig"
)

// DepthRequester is the subset of market.Feed the engine needs to trigger
// on-demand depth sampling. Implemented by *market.Feed.
type DepthRequester interface {
	RequestDepth(mkt common.MarketType, symbol string)
}

// tickerKey identifies one symbol on one market for the engine's
// last-known-ticker cache, used by order-book evaluation to recover the
// live price and 24h turnover a resting order is judged against.
type tickerKey struct {
	Market common.MarketType
	Symbol string
}

// Engine is the per-user, per-symbol alert evaluation pipeline. It
// implements market.Sink and feeds Sink (the dispatcher).
type Engine struct {
	store    *userconfig.Store
	cooldown *CooldownTable
	sink     Sink
	depth    DepthRequester
	clock    common.Clock
	logger   zerolog.Logger

	totalAlerts    int64
	bigOrderAlerts int64

	userCacheMu sync.Mutex
	userCache   []*userconfig.UserConfig
	userCacheAt time.Time
	cacheValid  bool

	lastTickerMu sync.Mutex
	lastTicker   map[tickerKey]market.Ticker
}

// NewEngine wires the evaluation pipeline to its collaborators.
func NewEngine(store *userconfig.Store, sink Sink, depth DepthRequester, clock common.Clock, logger zerolog.Logger) *Engine {
	e := &Engine{
		store:      store,
		cooldown:   NewCooldownTable(),
		sink:       sink,
		depth:      depth,
		clock:      clock,
		logger:     logger,
		lastTicker: make(map[tickerKey]market.Ticker),
	}
	store.OnInvalidate(e.InvalidateUserCache)
	return e
}

// SetSink assigns the receiver of fired alerts. The engine and its sink
// (the dispatcher) are mutually referential (the dispatcher needs the
// engine as a CooldownClearer), so wiring happens in two steps at startup
// rather than both via the constructor.
func (e *Engine) SetSink(sink Sink) {
	e.sink = sink
}

// InvalidateUserCache drops the cached active-user list, forcing the next
// OnTicker/OnSpread/OnOrderBook call to re-read the store. Registered with
// userconfig.Store as its OnInvalidate callback.
func (e *Engine) InvalidateUserCache() {
	e.userCacheMu.Lock()
	defer e.userCacheMu.Unlock()
	e.cacheValid = false
}

// activeUsers returns the cached active-user list, refreshing it if the
// cache is invalid or older than common.UserCacheTTL seconds.
func (e *Engine) activeUsers() []*userconfig.UserConfig {
	e.userCacheMu.Lock()
	defer e.userCacheMu.Unlock()

	now := e.clock.Now()
	if e.cacheValid && now.Sub(e.userCacheAt) < time.Duration(common.UserCacheTTL)*time.Second {
		return e.userCache
	}

	e.userCache = e.store.ActiveUsers()
	e.userCacheAt = now
	e.cacheValid = true
	return e.userCache
}

// ClearCooldown drops every cooldown cell for (userID, symbol), called by
// the dispatcher's mute handler.
func (e *Engine) ClearCooldown(userID, symbol string) {
	e.cooldown.Clear(userID, symbol)
}

// Stats returns a snapshot of engine-wide counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalAlerts:     atomic.LoadInt64(&e.totalAlerts),
		EscalationCount: e.cooldown.EscalationCount(),
		BigOrderAlerts:  atomic.LoadInt64(&e.bigOrderAlerts),
	}
}

func (e *Engine) marketEnabled(u *userconfig.UserConfig, mkt common.MarketType) bool {
	if mkt == common.MarketFutures {
		return u.EnableFutures
	}
	return u.EnableSpot
}

// fire runs one candidate firing through the cooldown/escalation state
// machine and, if admitted, emits the alert and updates counters.
func (e *Engine) fire(u *userconfig.UserConfig, symbol string, mkt common.MarketType, typ common.AlertType, now time.Time, level common.AlertLevel, data Data, message string) bool {
	cooldown := time.Duration(u.CooldownSeconds) * time.Second
	fired, isEscalation := e.cooldown.Evaluate(u.UserID, symbol, typ, now, level, cooldown)
	if !fired {
		return false
	}

	atomic.AddInt64(&e.totalAlerts, 1)
	if typ == common.AlertBigBidOrder || typ == common.AlertBigAskOrder {
		atomic.AddInt64(&e.bigOrderAlerts, 1)
	}

	e.sink.OnAlert(&Alert{
		ID:           common.NewAlertID(),
		Type:         typ,
		Level:        level,
		Symbol:       symbol,
		Market:       mkt,
		Message:      message,
		Data:         data,
		TargetUserID: u.UserID,
		Status:       common.StatusPending,
		Timestamp:    now,
		IsEscalation: isEscalation,
	}, u.UserID)

	return true
}

// priceHorizon pairs a horizon label (minutes) with the observed change and
// the user's configured threshold for that horizon.
type priceHorizon struct {
	minutes   int
	change    float64
	threshold float64
}

// selectHorizon picks the breaching horizon with the highest classified
// level; ties are broken by larger absolute magnitude.
func selectHorizon(horizons []priceHorizon, breaches func(h priceHorizon) bool) (priceHorizon, bool) {
	var best priceHorizon
	found := false
	for _, h := range horizons {
		if !breaches(h) {
			continue
		}
		if !found {
			best, found = h, true
			continue
		}
		bestLevel := rules.PriceChangeLevel(best.change)
		hLevel := rules.PriceChangeLevel(h.change)
		if hLevel.Priority() > bestLevel.Priority() {
			best = h
		} else if hLevel.Priority() == bestLevel.Priority() && math.Abs(h.change) > math.Abs(best.change) {
			best = h
		}
	}
	return best, found
}

// OnTicker evaluates one processed tick against every active, admitted
// user: price-change horizons (pump and dump sides independently) and
// volume-spike. Requests exactly one depth sample if any user's
// evaluation fired.
func (e *Engine) OnTicker(t market.Ticker) {
	e.lastTickerMu.Lock()
	e.lastTicker[tickerKey{Market: t.Market, Symbol: t.Symbol}] = t
	e.lastTickerMu.Unlock()

	now := e.clock.Now()
	anyFired := false

	for _, u := range e.activeUsers() {
		if !e.admit(u, t.Symbol, t.Market, t.Volume24hQuote) {
			continue
		}

		if u.EnablePrice {
			horizons := []priceHorizon{
				{1, t.Change1m, u.Price.Pump1m},
				{5, t.Change5m, u.Price.Pump5m},
				{15, t.Change15m, u.Price.Pump15m},
				{60, t.Change1h, u.Price.Pump1h},
			}

			if h, ok := selectHorizon(horizons, func(h priceHorizon) bool { return h.threshold > 0 && h.change >= h.threshold }); ok {
				level := rules.PriceChangeLevel(h.change)
				if e.fire(u, t.Symbol, t.Market, common.AlertPricePump, now, level, PriceData{ChangePercent: h.change, HorizonMinutes: h.minutes, Price: t.Price, High24h: t.High24h, Low24h: t.Low24h}, "") {
					anyFired = true
				}
			}

			if h, ok := selectHorizon(horizons, func(h priceHorizon) bool { return h.threshold > 0 && h.change <= -h.threshold }); ok {
				level := rules.PriceChangeLevel(h.change)
				if e.fire(u, t.Symbol, t.Market, common.AlertPriceDump, now, level, PriceData{ChangePercent: h.change, HorizonMinutes: h.minutes, Price: t.Price, High24h: t.High24h, Low24h: t.Low24h}, "") {
					anyFired = true
				}
			}
		}

		if u.EnableVolume && u.Volume.SpikeRatio > 0 && t.VolumeChangeRatio >= u.Volume.SpikeRatio {
			level := rules.VolumeRatioLevel(t.VolumeChangeRatio)
			if e.fire(u, t.Symbol, t.Market, common.AlertVolumeSpike, now, level, VolumeData{VolumeRatio: t.VolumeChangeRatio}, "") {
				anyFired = true
			}
		}
	}

	if anyFired {
		e.depth.RequestDepth(t.Market, t.Symbol)
	}
}

// OnSpread evaluates one spot/futures spread event per active, admitted
// user: spot-futures spread and, independently, funding rate.
func (e *Engine) OnSpread(s market.Spread) {
	now := e.clock.Now()

	e.lastTickerMu.Lock()
	turnover := e.lastTicker[tickerKey{Market: common.MarketSpot, Symbol: s.Symbol}].Volume24hQuote
	e.lastTickerMu.Unlock()

	for _, u := range e.activeUsers() {
		if !e.admit(u, s.Symbol, common.MarketFutures, turnover) {
			continue
		}

		if u.EnableSpread && u.Spread.SpotFuturesPercent > 0 && math.Abs(s.SpreadPercent) >= u.Spread.SpotFuturesPercent {
			level := rules.SpreadLevel(s.SpreadPercent)
			typ := common.AlertSpreadHigh
			if s.SpreadPercent < 0 {
				typ = common.AlertSpreadLow
			}
			e.fire(u, s.Symbol, common.MarketFutures, typ, now, level, SpreadData{SpreadPercent: s.SpreadPercent, SpotPrice: s.SpotPrice, FuturesPrice: s.FuturesPrice}, "")
		}

		if u.EnableFunding {
			if u.Spread.FundingHighPercent > 0 && s.FundingRatePercent >= u.Spread.FundingHighPercent {
				level := rules.FundingLevel(s.FundingRatePercent)
				e.fire(u, s.Symbol, common.MarketFutures, common.AlertFundingHigh, now, level, FundingData{FundingRatePercent: s.FundingRatePercent}, "")
			} else if u.Spread.FundingLowPercent < 0 && s.FundingRatePercent <= u.Spread.FundingLowPercent {
				level := rules.FundingLevel(s.FundingRatePercent)
				e.fire(u, s.Symbol, common.MarketFutures, common.AlertFundingLow, now, level, FundingData{FundingRatePercent: s.FundingRatePercent}, "")
			}
		}
	}
}

// OnOrderBook evaluates one depth sample per active, admitted user: the
// tiered big-order test on each side, gated by the resting level's price
// deviation from the current live price.
func (e *Engine) OnOrderBook(ob market.OrderBook) {
	now := e.clock.Now()

	e.lastTickerMu.Lock()
	last, known := e.lastTicker[tickerKey{Market: ob.Market, Symbol: ob.Symbol}]
	e.lastTickerMu.Unlock()
	if !known || last.Price <= 0 {
		return
	}
	turnover := last.Volume24hQuote
	livePrice := last.Price

	for _, u := range e.activeUsers() {
		if !e.admit(u, ob.Symbol, ob.Market, turnover) || !u.EnableBigOrder {
			continue
		}

		if ob.MaxBidOrderValue > 0 && rules.IsBigOrder(ob.MaxBidOrderValue, turnover) {
			deviation := priceDeviation(ob.MaxBidPrice, livePrice)
			if math.Abs(deviation) <= maxDeviation(u) {
				level := rules.BigOrderLevel(ob.MaxBidOrderValue, turnover)
				e.fire(u, ob.Symbol, ob.Market, common.AlertBigBidOrder, now, level,
					BigOrderData{Notional: ob.MaxBidOrderValue, Turnover24h: turnover, PriceDeviationPercent: deviation, RestingPrice: ob.MaxBidPrice}, "")
			}
		}

		if ob.MaxAskOrderValue > 0 && rules.IsBigOrder(ob.MaxAskOrderValue, turnover) {
			deviation := priceDeviation(ob.MaxAskPrice, livePrice)
			if math.Abs(deviation) <= maxDeviation(u) {
				level := rules.BigOrderLevel(ob.MaxAskOrderValue, turnover)
				e.fire(u, ob.Symbol, ob.Market, common.AlertBigAskOrder, now, level,
					BigOrderData{Notional: ob.MaxAskOrderValue, Turnover24h: turnover, PriceDeviationPercent: deviation, RestingPrice: ob.MaxAskPrice}, "")
			}
		}
	}
}

func priceDeviation(restingPrice, livePrice float64) float64 {
	if livePrice <= 0 {
		return 0
	}
	return (restingPrice - livePrice) / livePrice * 100
}

func maxDeviation(u *userconfig.UserConfig) float64 {
	if u.BigOrder.MaxPriceDeviation > 0 {
		return u.BigOrder.MaxPriceDeviation
	}
	return 5
}

// admit applies the admission gate: active user, watch-mode filter, market
// flag, minimum-turnover gate. The family-specific flag is checked by each
// caller since it differs per metric.
func (e *Engine) admit(u *userconfig.UserConfig, symbol string, mkt common.MarketType, turnover24h float64) bool {
	if !u.Active {
		return false
	}
	if !u.ShouldMonitor(symbol) {
		return false
	}
	if !e.marketEnabled(u, mkt) {
		return false
	}
	if !u.ShouldMonitorVolume(turnover24h) {
		return false
	}
	return true
}

var _ market.Sink = (*Engine)(nil)
