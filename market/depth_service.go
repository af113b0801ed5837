package market

import (
	"context"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/market/client"
)

const depthEndpoint = "/api/v3/depth"
const futuresDepthEndpoint = "/fapi/v1/depth"

// depthLimit is the number of levels requested per side.
const depthLimit = 20

// depthResponse mirrors the upstream order-book payload: each level is a
// two-element array of [price, quantity] strings.
type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// DepthService fetches a single order-book snapshot for one symbol on one
// market.
type DepthService struct {
	rest     client.Interface
	mkt      common.MarketType
	endpoint string
}

// NewDepthService constructs the depth fetcher for one market's REST client.
func NewDepthService(rest client.Interface, mkt common.MarketType) *DepthService {
	endpoint := depthEndpoint
	if mkt == common.MarketFutures {
		endpoint = futuresDepthEndpoint
	}
	return &DepthService{rest: rest, mkt: mkt, endpoint: endpoint}
}

// Do fetches and parses the top depthLimit levels for symbol.
func (s *DepthService) Do(ctx context.Context, symbol string, logger zerolog.Logger) (OrderBook, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(depthLimit))

	body, err := s.rest.Get(ctx, s.endpoint, query)
	if err != nil {
		return OrderBook{}, err
	}

	var raw depthResponse
	if err := jsoniter.Unmarshal(body, &raw); err != nil {
		return OrderBook{}, &jsonParseError{market: string(s.mkt), err: err}
	}

	bids := parseLevels(raw.Bids, logger)
	asks := parseLevels(raw.Asks, logger)

	return BuildOrderBook(symbol, s.mkt, bids, asks, time.Now()), nil
}

func parseLevels(raw [][2]string, logger zerolog.Logger) []OrderBookLevel {
	out := make([]OrderBookLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			logger.Debug().Str("value", pair[0]).Msg("dropping depth level with unparsable price")
			continue
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			logger.Debug().Str("value", pair[1]).Msg("dropping depth level with unparsable quantity")
			continue
		}
		out = append(out, OrderBookLevel{Price: price, Quantity: qty})
	}
	return out
}
