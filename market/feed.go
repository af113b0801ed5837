package market

import (
	"context"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/market/client"
	"github.com/coinwhistle/sentinel/market/history"
)

// volumeRatioWindowMinutes is the recent/older partition window used to
// derive Ticker.VolumeChangeRatio. Five minutes matches the VOLUME_SPIKE
// alert's intended granularity.
const volumeRatioWindowMinutes = 5

// depthRequestQueueSize bounds the depth-sample queue; overflow is dropped
// silently.
const depthRequestQueueSize = 256

// maxStreamSymbols caps how many symbols one streaming session multiplexes.
const maxStreamSymbols = 200

type depthRequest struct {
	market common.MarketType
	symbol string
}

// Feed is the market-data ingestion subsystem: REST-seeded symbol universe
// and 24h/funding snapshots, two streaming sessions with coalescing,
// rolling price history, and on-demand depth sampling.
type Feed struct {
	spotREST    client.Interface
	futuresREST client.Interface
	spotStream  *streamClient
	futStream   *streamClient

	quoteAsset string
	sink       Sink
	clock      common.Clock
	logger     zerolog.Logger

	mu             sync.RWMutex
	spotSymbols    map[string]struct{}
	futuresSymbols map[string]struct{}
	spot24h        map[string]snapshot24h
	futures24h     map[string]snapshot24h
	funding        map[string]fundingSnapshot
	lastPriceSpot  map[string]float64
	lastPriceFut   map[string]float64

	historyMu   sync.Mutex
	historySpot map[string]*history.PriceHistory
	historyFut  map[string]*history.PriceHistory

	depthQueue chan depthRequest

	depthMu          sync.Mutex
	depthLastChecked map[common.MarketType]map[string]time.Time
}

// Config carries the external wiring a Feed needs at construction.
type Config struct {
	SpotRESTBaseURL    string
	FuturesRESTBaseURL string
	SpotStreamBaseURL  string
	FutStreamBaseURL   string
	QuoteAsset         string
}

// NewFeed constructs a Feed from its external configuration. sink receives
// derived Ticker/Spread/OrderBook events; clock may be replaced in tests.
func NewFeed(cfg Config, sink Sink, clock common.Clock, logger zerolog.Logger) *Feed {
	return &Feed{
		spotREST:    client.New(cfg.SpotRESTBaseURL, logger),
		futuresREST: client.New(cfg.FuturesRESTBaseURL, logger),
		spotStream:  newStreamClient(cfg.SpotStreamBaseURL, logger),
		futStream:   newStreamClient(cfg.FutStreamBaseURL, logger),

		quoteAsset: cfg.QuoteAsset,
		sink:       sink,
		clock:      clock,
		logger:     logger,

		spotSymbols:    make(map[string]struct{}),
		futuresSymbols: make(map[string]struct{}),
		spot24h:        make(map[string]snapshot24h),
		futures24h:     make(map[string]snapshot24h),
		funding:        make(map[string]fundingSnapshot),
		lastPriceSpot:  make(map[string]float64),
		lastPriceFut:   make(map[string]float64),

		historySpot: make(map[string]*history.PriceHistory),
		historyFut:  make(map[string]*history.PriceHistory),

		depthQueue: make(chan depthRequest, depthRequestQueueSize),
		depthLastChecked: map[common.MarketType]map[string]time.Time{
			common.MarketSpot:    make(map[string]time.Time),
			common.MarketFutures: make(map[string]time.Time),
		},
	}
}

// SetSink assigns the receiver of derived Ticker/Spread/OrderBook events.
// Feed and its sink (the alert engine) are mutually referential (the
// engine needs the feed as a DepthRequester), so wiring happens in two
// steps at startup rather than both via the constructor.
func (f *Feed) SetSink(sink Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

// Run seeds the symbol universe and snapshots, then drives every feed task
// until ctx is cancelled: stream readers, coalescers, depth worker, and the
// periodic refresher.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.refresh(ctx); err != nil {
		return err
	}

	f.spotStream.Subscribe(f.streamSymbols(common.MarketSpot))
	f.futStream.Subscribe(f.streamSymbols(common.MarketFutures))

	var wg sync.WaitGroup
	wg.Add(5)

	go func() { defer wg.Done(); f.spotStream.Run(ctx) }()
	go func() { defer wg.Done(); f.futStream.Run(ctx) }()
	go func() { defer wg.Done(); f.coalesceLoop(ctx, common.MarketSpot, f.spotStream.raw) }()
	go func() { defer wg.Done(); f.coalesceLoop(ctx, common.MarketFutures, f.futStream.raw) }()
	go func() { defer wg.Done(); f.depthWorker(ctx) }()

	go f.refreshLoop(ctx)

	wg.Wait()
	return nil
}

// refreshLoop re-runs the REST seed every 60 seconds until ctx is
// cancelled. Scheduled with robfig/cron, the way the stream client
// schedules its own heartbeat.
func (f *Feed) refreshLoop(ctx context.Context) {
	cr := cron.New(cron.WithSeconds())
	_, _ = cr.AddFunc("*/60 * * * * *", func() {
		if ctx.Err() != nil {
			return
		}
		if err := f.refresh(ctx); err != nil {
			f.logger.Warn().Err(err).Msg("periodic market refresh failed")
		}
	})
	cr.Start()
	<-ctx.Done()
	cr.Stop()
}

// refresh re-seeds the symbol universes and 24h/funding snapshots from
// REST.
func (f *Feed) refresh(ctx context.Context) error {
	spotSymbols, err := NewExchangeInfoService(f.spotREST, false, f.quoteAsset, f.logger).Do(ctx)
	if err != nil {
		return err
	}
	futSymbols, err := NewExchangeInfoService(f.futuresREST, true, f.quoteAsset, f.logger).Do(ctx)
	if err != nil {
		return err
	}
	spot24h, err := NewTicker24hService(f.spotREST, false, f.logger).Do(ctx)
	if err != nil {
		return err
	}
	fut24h, err := NewTicker24hService(f.futuresREST, true, f.logger).Do(ctx)
	if err != nil {
		return err
	}
	funding, err := NewFundingService(f.futuresREST, f.logger).Do(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.spotSymbols = spotSymbols
	f.futuresSymbols = futSymbols
	f.spot24h = spot24h
	f.futures24h = fut24h
	f.funding = funding
	f.mu.Unlock()

	return nil
}

// streamSymbols returns the subscription list for one market, capped at
// maxStreamSymbols with the highest-turnover symbols kept, since one
// session multiplexes at most 200 miniTicker streams.
func (f *Feed) streamSymbols(mkt common.MarketType) []string {
	f.mu.RLock()
	set, snaps := f.spotSymbols, f.spot24h
	if mkt == common.MarketFutures {
		set, snaps = f.futuresSymbols, f.futures24h
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	volume := make(map[string]float64, len(out))
	for _, s := range out {
		volume[s] = snaps[s].QuoteVolume
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if volume[out[i]] == volume[out[j]] {
			return out[i] < out[j]
		}
		return volume[out[i]] > volume[out[j]]
	})
	if len(out) > maxStreamSymbols {
		out = out[:maxStreamSymbols]
	}
	return out
}

// coalesceLoop drains source into a per-symbol map until it reaches 50
// entries or 100ms elapses, then evaluates exactly one tick per symbol in
// the batch using the last-arrived payload, bounding work per batch under
// bursty markets.
func (f *Feed) coalesceLoop(ctx context.Context, mkt common.MarketType, source <-chan []byte) {
	const batchLimit = 50
	const drainTimeout = 100 * time.Millisecond

	for {
		batch := make(map[string]rawTickMessage)
		timer := time.NewTimer(drainTimeout)

	drain:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case raw, ok := <-source:
				if !ok {
					timer.Stop()
					return
				}
				var msg rawTickMessage
				if err := jsoniter.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
					f.logger.Debug().Err(err).Msg("dropping unparsable tick")
					continue
				}
				batch[msg.Symbol] = msg
				if len(batch) >= batchLimit {
					timer.Stop()
					break drain
				}
			case <-timer.C:
				break drain
			}
		}

		for symbol, msg := range batch {
			f.processTick(mkt, symbol, msg)
		}
	}
}

// processTick updates last price, rolling history, and the 24h snapshot's
// high/low, then builds and dispatches a Ticker and (if the counterpart
// market has a current price) a Spread.
func (f *Feed) processTick(mkt common.MarketType, symbol string, msg rawTickMessage) {
	price := parseFloatOrZero(msg.Close)
	volume := parseFloatOrZero(msg.Volume)
	high := parseFloatOrZero(msg.High)
	low := parseFloatOrZero(msg.Low)
	if price <= 0 {
		return
	}

	now := f.clock.Now()

	f.mu.Lock()
	switch mkt {
	case common.MarketSpot:
		f.lastPriceSpot[symbol] = price
		snap := f.spot24h[symbol]
		snap.Price = price
		if high > snap.High {
			snap.High = high
		}
		if snap.Low == 0 || (low > 0 && low < snap.Low) {
			snap.Low = low
		}
		f.spot24h[symbol] = snap
	case common.MarketFutures:
		f.lastPriceFut[symbol] = price
		snap := f.futures24h[symbol]
		snap.Price = price
		if high > snap.High {
			snap.High = high
		}
		if snap.Low == 0 || (low > 0 && low < snap.Low) {
			snap.Low = low
		}
		f.futures24h[symbol] = snap
	}
	counterpartPrice, hasCounterpart := f.counterpartPrice(mkt, symbol)
	snapshot24 := f.snapshotFor(mkt, symbol)
	fundingRate := f.funding[symbol].FundingRatePercent
	f.mu.Unlock()

	ph := f.historyFor(mkt, symbol)
	ph.Add(now, price, volume)

	change1m, _ := ph.Change(now, 1)
	change5m, _ := ph.Change(now, 5)
	change15m, _ := ph.Change(now, 15)
	change1h, _ := ph.Change(now, 60)

	ticker := Ticker{
		Symbol:            symbol,
		Market:            mkt,
		Price:             price,
		Change1m:          change1m,
		Change5m:          change5m,
		Change15m:         change15m,
		Change1h:          change1h,
		Change24h:         snapshot24.ChangePercent,
		Volume24hQuote:    snapshot24.QuoteVolume,
		VolumeChangeRatio: ph.VolumeRatio(now, volumeRatioWindowMinutes),
		High24h:           snapshot24.High,
		Low24h:            snapshot24.Low,
		Timestamp:         now,
	}
	f.sink.OnTicker(ticker)

	if hasCounterpart {
		var spotPrice, futPrice float64
		if mkt == common.MarketSpot {
			spotPrice, futPrice = price, counterpartPrice
		} else {
			spotPrice, futPrice = counterpartPrice, price
		}
		spreadPercent := 0.0
		if spotPrice > 0 {
			spreadPercent = (futPrice - spotPrice) / spotPrice * 100
		}
		f.sink.OnSpread(Spread{
			Symbol:             symbol,
			SpotPrice:          spotPrice,
			FuturesPrice:       futPrice,
			SpreadPercent:      spreadPercent,
			FundingRatePercent: fundingRate,
			Timestamp:          now,
		})
	}
}

func (f *Feed) counterpartPrice(mkt common.MarketType, symbol string) (float64, bool) {
	if mkt == common.MarketSpot {
		p, ok := f.lastPriceFut[symbol]
		return p, ok
	}
	p, ok := f.lastPriceSpot[symbol]
	return p, ok
}

func (f *Feed) snapshotFor(mkt common.MarketType, symbol string) snapshot24h {
	if mkt == common.MarketSpot {
		return f.spot24h[symbol]
	}
	return f.futures24h[symbol]
}

func (f *Feed) historyFor(mkt common.MarketType, symbol string) *history.PriceHistory {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()

	table := f.historySpot
	if mkt == common.MarketFutures {
		table = f.historyFut
	}
	ph, ok := table[symbol]
	if !ok {
		ph = history.New()
		table[symbol] = ph
	}
	return ph
}

// Snapshots returns the current per-symbol 24h view for one market, the
// input to the derived top-N queries the boundary UI consumes.
// SpreadPercent is populated only where both markets have a current price;
// FundingRatePercent only for symbols with a funding entry.
func (f *Feed) Snapshots(mkt common.MarketType) []Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snaps := f.spot24h
	if mkt == common.MarketFutures {
		snaps = f.futures24h
	}

	out := make([]Snapshot, 0, len(snaps))
	for symbol, snap := range snaps {
		s := Snapshot{
			Symbol:             symbol,
			ChangePercent:      snap.ChangePercent,
			QuoteVolume:        snap.QuoteVolume,
			FundingRatePercent: f.funding[symbol].FundingRatePercent,
		}
		spot, hasSpot := f.lastPriceSpot[symbol]
		fut, hasFut := f.lastPriceFut[symbol]
		if hasSpot && hasFut && spot > 0 {
			s.SpreadPercent = (fut - spot) / spot * 100
		}
		out = append(out, s)
	}
	return out
}

// RequestDepth enqueues a depth-sample request for symbol on mkt. Overflow
// is dropped silently.
func (f *Feed) RequestDepth(mkt common.MarketType, symbol string) {
	select {
	case f.depthQueue <- depthRequest{market: mkt, symbol: symbol}:
	default:
		f.logger.Debug().Str("symbol", symbol).Msg("depth queue full, dropping request")
	}
}

// depthWorker drains the depth queue, enforcing a per-symbol minimum
// interval and a post-fetch rate-limit sleep.
func (f *Feed) depthWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-f.depthQueue:
			if !f.admitDepthRequest(req) {
				continue
			}
			f.sampleDepth(ctx, req)
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (f *Feed) admitDepthRequest(req depthRequest) bool {
	f.depthMu.Lock()
	defer f.depthMu.Unlock()

	last, ok := f.depthLastChecked[req.market][req.symbol]
	now := f.clock.Now()
	if ok && now.Sub(last) < time.Duration(common.DepthSampleMinInterval)*time.Second {
		return false
	}
	f.depthLastChecked[req.market][req.symbol] = now
	return true
}

func (f *Feed) sampleDepth(ctx context.Context, req depthRequest) {
	rest := f.spotREST
	if req.market == common.MarketFutures {
		rest = f.futuresREST
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ob, err := NewDepthService(rest, req.market).Do(reqCtx, req.symbol, f.logger)
	if err != nil {
		f.logger.Warn().Err(err).Str("symbol", req.symbol).Msg("depth sample failed")
		return
	}
	f.sink.OnOrderBook(ob)
}
