package market

import (
	"context"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/market/client"
)

const exchangeInfoEndpoint = "/api/v3/exchangeInfo"
const futuresExchangeInfoEndpoint = "/fapi/v1/exchangeInfo"

// exchangeInfoResponse mirrors the subset of the upstream exchangeInfo
// payload this system reads: the tradable symbol universe.
type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	QuoteAsset string `json:"quoteAsset"`
}

// ExchangeInfoService discovers the actively-trading symbol universe for
// one market, filtered to a single quote asset.
type ExchangeInfoService struct {
	rest       client.Interface
	mkt        string // "spot" or "futures", used only for logging
	endpoint   string
	quoteAsset string
	logger     zerolog.Logger
}

// NewExchangeInfoService constructs a symbol-discovery service for one
// market's REST client.
func NewExchangeInfoService(rest client.Interface, isFutures bool, quoteAsset string, logger zerolog.Logger) *ExchangeInfoService {
	endpoint := exchangeInfoEndpoint
	mkt := "spot"
	if isFutures {
		endpoint = futuresExchangeInfoEndpoint
		mkt = "futures"
	}
	return &ExchangeInfoService{rest: rest, mkt: mkt, endpoint: endpoint, quoteAsset: quoteAsset, logger: logger}
}

// Do fetches and filters the symbol universe to actively-trading pairs
// quoted in the configured quote asset, returning a set (map to struct{}).
func (s *ExchangeInfoService) Do(ctx context.Context) (map[string]struct{}, error) {
	body, err := s.rest.Get(ctx, s.endpoint, url.Values{})
	if err != nil {
		return nil, err
	}

	var resp exchangeInfoResponse
	if err := jsoniter.Unmarshal(body, &resp); err != nil {
		return nil, &jsonParseError{market: s.mkt, err: err}
	}

	universe := make(map[string]struct{}, len(resp.Symbols))
	for _, sym := range resp.Symbols {
		if !strings.EqualFold(sym.Status, "TRADING") {
			continue
		}
		if !strings.EqualFold(sym.QuoteAsset, s.quoteAsset) {
			continue
		}
		universe[sym.Symbol] = struct{}{}
	}

	s.logger.Debug().Str("market", s.mkt).Int("symbols", len(universe)).Msg("symbol universe refreshed")
	return universe, nil
}

// jsonParseError tags a parse failure with the market it came from, so the
// feed's error handling can log and drop it without halting the stream.
type jsonParseError struct {
	market string
	err    error
}

func (e *jsonParseError) Error() string {
	return "parse " + e.market + " payload: " + e.err.Error()
}

func (e *jsonParseError) Unwrap() error { return e.err }
