package market

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/market/client"
)

// fakeClock lets tests control "now" deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRESTClient struct {
	body []byte
	err  error
}

func (f *fakeRESTClient) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	return f.body, f.err
}

var _ client.Interface = (*fakeRESTClient)(nil)

type recordingSink struct {
	mu      sync.Mutex
	tickers []Ticker
	spreads []Spread
	books   []OrderBook
}

func (s *recordingSink) OnTicker(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers = append(s.tickers, t)
}

func (s *recordingSink) OnSpread(sp Spread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spreads = append(s.spreads, sp)
}

func (s *recordingSink) OnOrderBook(ob OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = append(s.books, ob)
}

func (s *recordingSink) tickerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickers)
}

func newTestFeed(sink Sink, clock common.Clock) *Feed {
	return NewFeed(Config{QuoteAsset: "USDT"}, sink, clock, zerolog.Nop())
}

func TestFeed_ProcessTick_EmitsTickerAndSpreadWhenCounterpartKnown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	sink := &recordingSink{}
	f := newTestFeed(sink, clock)

	f.lastPriceFut["BTCUSDT"] = 30100
	f.futures24h["BTCUSDT"] = snapshot24h{}
	f.funding["BTCUSDT"] = fundingSnapshot{FundingRatePercent: 0.05}

	f.processTick(common.MarketSpot, "BTCUSDT", rawTickMessage{Symbol: "BTCUSDT", Close: "30000", Volume: "12", High: "30500", Low: "29500"})

	require.Len(t, sink.tickers, 1)
	assert.Equal(t, 30000.0, sink.tickers[0].Price)

	require.Len(t, sink.spreads, 1)
	assert.Equal(t, 30000.0, sink.spreads[0].SpotPrice)
	assert.Equal(t, 30100.0, sink.spreads[0].FuturesPrice)
	assert.InDelta(t, 0.333, sink.spreads[0].SpreadPercent, 0.01)
	assert.Equal(t, 0.05, sink.spreads[0].FundingRatePercent)
}

func TestFeed_ProcessTick_NoSpreadWithoutCounterpart(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	sink := &recordingSink{}
	f := newTestFeed(sink, clock)

	f.processTick(common.MarketSpot, "ETHUSDT", rawTickMessage{Symbol: "ETHUSDT", Close: "2000", Volume: "5"})

	require.Len(t, sink.tickers, 1)
	assert.Empty(t, sink.spreads)
}

func TestFeed_CoalesceLoop_CollapsesBurstToOneEvaluation(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	sink := &recordingSink{}
	f := newTestFeed(sink, clock)

	source := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.coalesceLoop(ctx, common.MarketSpot, source)

	prices := []string{"1.00", "1.02", "1.05", "1.07", "1.08", "1.09", "1.095", "1.097", "1.099", "1.10"}
	for _, p := range prices {
		source <- []byte(`{"s":"XUSDT","c":"` + p + `","v":"1","h":"1.10","l":"1.00"}`)
	}

	require.Eventually(t, func() bool { return sink.tickerCount() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond) // let the 100ms drain window close once

	assert.Equal(t, 1, sink.tickerCount())
	assert.Equal(t, 1.10, sink.tickers[0].Price)
}

func TestFeed_DepthRequest_RespectsMinInterval(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	sink := &recordingSink{}
	f := newTestFeed(sink, clock)

	req := depthRequest{market: common.MarketSpot, symbol: "BTCUSDT"}
	assert.True(t, f.admitDepthRequest(req))
	assert.False(t, f.admitDepthRequest(req))

	clock.Advance(31 * time.Second)
	assert.True(t, f.admitDepthRequest(req))
}

func TestFeed_StreamSymbols_CapsAtHighestTurnover(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	f := newTestFeed(&recordingSink{}, clock)

	for i := 0; i < maxStreamSymbols+20; i++ {
		sym := "S" + string(rune('A'+i%26)) + string(rune('A'+(i/26)%26)) + "USDT"
		f.spotSymbols[sym] = struct{}{}
		f.spot24h[sym] = snapshot24h{QuoteVolume: float64(i)}
	}

	got := f.streamSymbols(common.MarketSpot)
	assert.Len(t, got, maxStreamSymbols)

	// The highest-turnover symbol must survive the cap.
	var best string
	var bestVol float64 = -1
	for sym, snap := range f.spot24h {
		if snap.QuoteVolume > bestVol {
			best, bestVol = sym, snap.QuoteVolume
		}
	}
	assert.Contains(t, got, best)
}

func TestFeed_Snapshots_IncludesSpreadAndFunding(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	f := newTestFeed(&recordingSink{}, clock)

	f.spot24h["BTCUSDT"] = snapshot24h{ChangePercent: 2.5, QuoteVolume: 9_000_000}
	f.lastPriceSpot["BTCUSDT"] = 30000
	f.lastPriceFut["BTCUSDT"] = 30300
	f.funding["BTCUSDT"] = fundingSnapshot{FundingRatePercent: 0.12}

	snaps := f.Snapshots(common.MarketSpot)
	require.Len(t, snaps, 1)
	assert.Equal(t, "BTCUSDT", snaps[0].Symbol)
	assert.InDelta(t, 1.0, snaps[0].SpreadPercent, 1e-9)
	assert.Equal(t, 0.12, snaps[0].FundingRatePercent)
	assert.Equal(t, 2.5, snaps[0].ChangePercent)
}

func TestFeed_RequestDepth_DropsOnFullQueue(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	sink := &recordingSink{}
	f := newTestFeed(sink, clock)
	f.depthQueue = make(chan depthRequest, 1)

	f.RequestDepth(common.MarketSpot, "A")
	f.RequestDepth(common.MarketSpot, "B") // dropped, queue full

	assert.Len(t, f.depthQueue, 1)
}
