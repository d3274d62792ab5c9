package casper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/logger"
)

const (
	// ActionCreated marks a newly observed entity on the stream. Other
	// actions (updates, replays) are delivered but carry no new work.
	ActionCreated = "created"

	// heartbeatFrame is the literal text frame the streaming API sends to
	// prove liveness. It is not JSON.
	heartbeatFrame = "Ping"

	defaultHeartbeatInterval = 30 * time.Second
	defaultStaleAfter        = 60 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultStartupRetryDelay = 10 * time.Second
)

var errStreamStale = errors.New("stream stale: no heartbeat within threshold")

// Frame is the envelope every streaming message arrives in.
type Frame struct {
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Extra     json.RawMessage `json:"extra"`
	Timestamp string          `json:"timestamp"`
}

// FrameHandler processes one streaming frame. Errors are logged, not fatal;
// the stream keeps flowing.
type FrameHandler func(ctx context.Context, frame Frame) error

// StreamClient maintains a resilient WebSocket subscription to the CSPR.cloud
// streaming API. It reconnects after connection loss and treats a silent
// connection as dead: the server heartbeats every few seconds, so a minute
// without any inbound frame means the link is gone even if TCP disagrees.
type StreamClient struct {
	url       string
	accessKey string
	handler   FrameHandler
	clock     adapter.Clock
	dialer    *websocket.Dialer

	heartbeatInterval time.Duration
	staleAfter        time.Duration
	reconnectDelay    time.Duration
	startupRetryDelay time.Duration

	mu       sync.Mutex
	lastSeen time.Time
}

// StreamOption customizes a StreamClient.
type StreamOption func(*StreamClient)

// WithStreamClock injects a clock, used by tests.
func WithStreamClock(clock adapter.Clock) StreamOption {
	return func(c *StreamClient) { c.clock = clock }
}

// WithStreamTimings overrides the heartbeat check interval, the staleness
// threshold, and the reconnect delays. Used by tests to run the liveness
// logic with short real durations.
func WithStreamTimings(heartbeatInterval, staleAfter, reconnectDelay, startupRetryDelay time.Duration) StreamOption {
	return func(c *StreamClient) {
		c.heartbeatInterval = heartbeatInterval
		c.staleAfter = staleAfter
		c.reconnectDelay = reconnectDelay
		c.startupRetryDelay = startupRetryDelay
	}
}

// NewStreamClient creates a streaming client for the given subscription URL.
// url carries the full path and query, e.g.
// wss://streaming.cspr.cloud/transfers?account_hash=<hash>.
func NewStreamClient(url, accessKey string, handler FrameHandler, opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		url:               url,
		accessKey:         accessKey,
		handler:           handler,
		clock:             adapter.NewClock(),
		dialer:            websocket.DefaultDialer,
		heartbeatInterval: defaultHeartbeatInterval,
		staleAfter:        defaultStaleAfter,
		reconnectDelay:    defaultReconnectDelay,
		startupRetryDelay: defaultStartupRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and consumes frames until ctx is cancelled, reconnecting on
// any failure. The initial connection failure retries slower than a dropped
// established connection.
func (c *StreamClient) Run(ctx context.Context) error {
	var delay time.Duration

	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(delay):
			}
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WarnCtx(ctx, fmt.Sprintf("stream connect failed, retrying in %s: %v", c.startupRetryDelay, err))
			delay = c.startupRetryDelay
			continue
		}

		logger.InfoCtx(ctx, "stream connected: "+c.url)
		err = c.consume(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WarnCtx(ctx, fmt.Sprintf("stream disconnected, reconnecting in %s: %v", c.reconnectDelay, err))
		delay = c.reconnectDelay
	}
}

func (c *StreamClient) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.accessKey != "" {
		header.Set("Authorization", c.accessKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

type streamMessage struct {
	data []byte
	err  error
}

// consume reads frames until the connection errors, goes stale, or ctx is
// cancelled. It always closes conn before returning.
func (c *StreamClient) consume(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close() //nolint:errcheck

	c.touch()

	messages := make(chan streamMessage)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case messages <- streamMessage{err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case messages <- streamMessage{data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	watchdog := c.clock.NewTicker(c.heartbeatInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-watchdog.Chan():
			if c.sinceLastSeen() >= c.staleAfter {
				// Closing the conn unblocks the reader goroutine
				return errStreamStale
			}

		case msg := <-messages:
			if msg.err != nil {
				return fmt.Errorf("stream read: %w", msg.err)
			}
			c.touch()

			if string(msg.data) == heartbeatFrame {
				continue
			}

			var frame Frame
			if err := json.Unmarshal(msg.data, &frame); err != nil {
				logger.WarnCtx(ctx, "stream frame not parseable, skipping: "+err.Error())
				continue
			}
			if err := c.handler(ctx, frame); err != nil {
				logger.ErrorCtx(ctx, fmt.Errorf("stream frame handler: %w", err))
			}
		}
	}
}

func (c *StreamClient) touch() {
	c.mu.Lock()
	c.lastSeen = c.clock.Now()
	c.mu.Unlock()
}

func (c *StreamClient) sinceLastSeen() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now().Sub(c.lastSeen)
}
