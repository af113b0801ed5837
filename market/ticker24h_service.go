package market

import (
	"context"
	"net/url"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/market/client"
)

const ticker24hEndpoint = "/api/v3/ticker/24hr"
const futuresTicker24hEndpoint = "/fapi/v1/ticker/24hr"

// ticker24hEntry mirrors one element of the upstream ticker/24hr array.
// Numeric fields arrive as JSON strings, as is typical of exchange REST
// payloads; Count is absent on futures responses and left zero there.
type ticker24hEntry struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	Count              int64  `json:"count"`
}

// Ticker24hService polls the 24h rolling-window REST endpoint for one
// market.
type Ticker24hService struct {
	rest     client.Interface
	mkt      string
	endpoint string
	logger   zerolog.Logger
}

// NewTicker24hService constructs the 24h-snapshot poller for one market.
func NewTicker24hService(rest client.Interface, isFutures bool, logger zerolog.Logger) *Ticker24hService {
	endpoint := ticker24hEndpoint
	mkt := "spot"
	if isFutures {
		endpoint = futuresTicker24hEndpoint
		mkt = "futures"
	}
	return &Ticker24hService{rest: rest, mkt: mkt, endpoint: endpoint, logger: logger}
}

// Do fetches the full 24h snapshot map, keyed by symbol.
func (s *Ticker24hService) Do(ctx context.Context) (map[string]snapshot24h, error) {
	body, err := s.rest.Get(ctx, s.endpoint, url.Values{})
	if err != nil {
		return nil, err
	}

	var entries []ticker24hEntry
	if err := jsoniter.Unmarshal(body, &entries); err != nil {
		return nil, &jsonParseError{market: s.mkt, err: err}
	}

	out := make(map[string]snapshot24h, len(entries))
	for _, e := range entries {
		out[e.Symbol] = snapshot24h{
			Price:         parseFloatOrZero(e.LastPrice),
			Change:        parseFloatOrZero(e.PriceChange),
			ChangePercent: parseFloatOrZero(e.PriceChangePercent),
			High:          parseFloatOrZero(e.HighPrice),
			Low:           parseFloatOrZero(e.LowPrice),
			Volume:        parseFloatOrZero(e.Volume),
			QuoteVolume:   parseFloatOrZero(e.QuoteVolume),
			Trades:        e.Count,
		}
	}

	s.logger.Debug().Str("market", s.mkt).Int("symbols", len(out)).Msg("24h snapshot refreshed")
	return out, nil
}

// parseFloatOrZero converts a loosely-typed exchange payload field (numeric
// fields arrive as JSON strings) via common.ConvertToFloat64; a malformed
// value is dropped to 0 rather than propagated.
func parseFloatOrZero(s string) float64 {
	v, err := common.ConvertToFloat64(s)
	if err != nil {
		return 0
	}
	return v
}
