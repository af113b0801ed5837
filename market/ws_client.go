package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// rawTickMessage is the shape of one upstream stream message after
// unwrapping: {s: symbol, c: close, v: volume, h: high, l: low}.
type rawTickMessage struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
	Volume string `json:"v"`
	High   string `json:"h"`
	Low    string `json:"l"`
}

// envelope is the `{data: ...}` wrapper the multiplexed stream URL sends
// each update in; single-stream responses arrive unwrapped.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

const (
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 60 * time.Second
	reconnectBackoffRate  = 1.5

	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 20 * time.Second
)

// streamClient is one long-lived upstream streaming session (spot or
// futures): reconnect with exponential backoff, periodic heartbeat, and
// subscription restoration on reconnect.
type streamClient struct {
	baseURL string
	logger  zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]struct{} // symbols currently subscribed

	lastReceived time.Time

	raw chan []byte // buffered tick queue drained by the coalescer; readLoop drops messages with a warning when it is full
}

func newStreamClient(baseURL string, logger zerolog.Logger) *streamClient {
	return &streamClient{
		baseURL:       baseURL,
		logger:        logger,
		subscriptions: make(map[string]struct{}),
		raw:           make(chan []byte, 4096),
	}
}

// Subscribe records symbol as part of this session's subscription set,
// restored automatically after any reconnect.
func (c *streamClient) Subscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		c.subscriptions[s] = struct{}{}
	}
}

// streamURL builds the multiplexed /stream?streams=... URL for the current
// subscription set.
func (c *streamClient) streamURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	streams := make([]string, 0, len(c.subscriptions))
	for sym := range c.subscriptions {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	return c.baseURL + "/stream?streams=" + url.QueryEscape(strings.Join(streams, "/"))
}

// Run drives the connect/read/reconnect loop until ctx is cancelled. The
// reader only suspends on socket reads and never does CPU-bound work.
func (c *streamClient) Run(ctx context.Context) {
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL(), nil)
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream connect failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextBackoff(delay)
			continue
		}

		c.logger.Info().Str("url", c.baseURL).Msg("stream connected")
		c.mu.Lock()
		c.conn = conn
		c.lastReceived = time.Now()
		c.mu.Unlock()
		delay = initialReconnectDelay

		c.startHeartbeat(ctx, conn)

		err = c.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected, reconnecting")
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = nextBackoff(delay)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * reconnectBackoffRate)
	if next > maxReconnectDelay {
		next = maxReconnectDelay
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// startHeartbeat pings the connection on a fixed interval, scheduled with
// robfig/cron like the feed's periodic refresher.
func (c *streamClient) startHeartbeat(ctx context.Context, conn *websocket.Conn) {
	cr := cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("*/%d * * * * *", int(heartbeatInterval.Seconds()))
	_, _ = cr.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if time.Since(c.lastReceivedAt()) > heartbeatTimeout {
			c.logger.Debug().Msg("heartbeat timeout, forcing reconnect")
			conn.Close()
			return
		}
		_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
	})
	cr.Start()
	go func() {
		<-ctx.Done()
		cr.Stop()
	}()
}

func (c *streamClient) lastReceivedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceived
}

// readLoop reads frames until the connection errors or ctx is cancelled,
// pushing raw payloads onto the tick queue for the coalescer to drain.
func (c *streamClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.lastReceived = time.Now()
		c.mu.Unlock()

		payload := unwrap(buf)
		select {
		case c.raw <- payload:
		case <-ctx.Done():
			return ctx.Err()
		default:
			c.logger.Warn().Msg("tick queue full, dropping message")
		}
	}
}

// unwrap strips the {stream, data} envelope when present, returning the
// inner payload unwrapped.
func unwrap(buf []byte) []byte {
	var env envelope
	if err := jsoniter.Unmarshal(buf, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return buf
}
