// Package client provides the REST transport used to poll the upstream
// exchange's public market-data endpoints (exchangeInfo, 24hr ticker,
// premium index / funding rate, order-book depth). None of these endpoints
// require authentication, so the client carries no signer. Responses are
// plain JSON documents (object or array), not wrapped in an envelope.
package client

import (
	"context"
	"net/url"
)

// Interface defines the contract market-data services call through. A
// fasthttp-backed implementation is provided by Client; tests substitute a
// mock satisfying this interface.
type Interface interface {
	Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}
