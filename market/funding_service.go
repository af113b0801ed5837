package market

import (
	"context"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/market/client"
)

const premiumIndexEndpoint = "/fapi/v1/premiumIndex"

// premiumIndexEntry mirrors one element of the upstream premiumIndex array
// (futures only; spot has no funding rate).
type premiumIndexEntry struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"` // epoch millis
}

// FundingService polls the futures funding-rate REST endpoint.
type FundingService struct {
	rest   client.Interface
	logger zerolog.Logger
}

// NewFundingService constructs the funding-rate poller.
func NewFundingService(rest client.Interface, logger zerolog.Logger) *FundingService {
	return &FundingService{rest: rest, logger: logger}
}

// Do fetches the full funding snapshot map, keyed by symbol. Rates arrive
// as a fraction (e.g. "0.0001" == 0.01%); converted here to percent units
// so downstream comparisons against user thresholds are in the same units
// as every other metric in this system.
func (s *FundingService) Do(ctx context.Context) (map[string]fundingSnapshot, error) {
	body, err := s.rest.Get(ctx, premiumIndexEndpoint, url.Values{})
	if err != nil {
		return nil, err
	}

	var entries []premiumIndexEntry
	if err := jsoniter.Unmarshal(body, &entries); err != nil {
		return nil, &jsonParseError{market: "futures", err: err}
	}

	out := make(map[string]fundingSnapshot, len(entries))
	for _, e := range entries {
		rate := parseFloatOrZero(e.LastFundingRate) * 100
		out[e.Symbol] = fundingSnapshot{
			FundingRatePercent: rate,
			NextFundingTime:    time.UnixMilli(e.NextFundingTime),
		}
	}

	s.logger.Debug().Int("symbols", len(out)).Msg("funding snapshot refreshed")
	return out, nil
}
