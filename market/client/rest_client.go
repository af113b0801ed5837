package client

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/coinwhistle/sentinel/common"
)

// requestTimeout is the upper bound on an in-flight REST call.
const requestTimeout = 30 * time.Second

// Client is a minimal GET-only REST client for one of the exchange's two
// REST bases (spot, futures). It carries no signer since every endpoint
// this system consumes is public.
type Client struct {
	baseURL    string
	httpClient *fasthttp.Client
	logger     zerolog.Logger
}

// New creates a REST client rooted at baseURL (e.g. the spot or futures API
// host).
func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &fasthttp.Client{},
		logger:     logger,
	}
}

// Get issues an unauthenticated GET to endpoint with the given query
// parameters and returns the raw response body.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fullURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", "sentinel-market-feed/1.0")

	c.logger.Debug().Str("url", fullURL).Msg("market feed REST request")

	timeout := requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := c.httpClient.DoTimeout(req, resp, timeout); err != nil {
		return nil, &common.TransportError{Op: "GET " + endpoint, Err: err}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &common.TransportError{
			Op:  "GET " + endpoint,
			Err: statusError(resp.StatusCode(), resp.Body()),
		}
	}

	// Body() is only valid until the response is released; copy it out.
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

var _ Interface = (*Client)(nil)
