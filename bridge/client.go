// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/ThoseWhoHackTrees/agent-vis/lib/clock"
	"github.com/ThoseWhoHackTrees/agent-vis/lib/schema/agentevent"
)

// ConnectionState is the client's view of its relay connection.
type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown connection state %q", text)
	}
	return nil
}

// ConnectionError is a failed dial or a dropped connection. It is
// surfaced in Connection and the client retries after a backoff.
type ConnectionError struct {
	URL     string
	Attempt uint64
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay connection %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection is a point-in-time copy of the client's state.
type Connection struct {
	State ConnectionState `json:"state"`
	URL   string          `json:"url"`

	// Since is when State was entered.
	Since time.Time `json:"since"`

	// Err is the most recent ConnectionError, kept until the next
	// successful connect.
	Err error `json:"-"`

	// Attempts counts dials since the client started.
	Attempts uint64 `json:"attempts"`

	// Backoff is the wait before the next dial while disconnected.
	Backoff time.Duration `json:"backoff,omitempty"`
}

// LastError is Err's message, or empty.
func (c Connection) LastError() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the relay's push endpoint, e.g. "ws://127.0.0.1:8080/ws".
	// Required.
	URL string

	// Encoding selects JSON text or CBOR binary frames.
	Encoding agentevent.Encoding

	// BackoffInitial defaults to 500ms, BackoffMax to 30s.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client keeps a WebSocket connection to the relay and forwards every
// valid envelope. Run must be called once; the accessors are safe from
// any goroutine.
type Client struct {
	url            string
	backoffInitial time.Duration
	backoffMax     time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	connection atomic.Pointer[Connection]
	attempts   atomic.Uint64
	received   atomic.Uint64
	malformed  atomic.Uint64

	malformedLog rate.Sometimes
}

// NewClient validates config and returns an idle client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("bridge: relay URL is required")
	}
	endpoint, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("bridge: parsing relay URL: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, fmt.Errorf("bridge: relay URL %q must use ws or wss", config.URL)
	}
	if config.Encoding == agentevent.EncodingCBOR {
		query := endpoint.Query()
		query.Set("encoding", string(agentevent.EncodingCBOR))
		endpoint.RawQuery = query.Encode()
	}
	if config.BackoffInitial <= 0 {
		config.BackoffInitial = 500 * time.Millisecond
	}
	if config.BackoffMax < config.BackoffInitial {
		config.BackoffMax = max(30*time.Second, config.BackoffInitial)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	client := &Client{
		url:            endpoint.String(),
		backoffInitial: config.BackoffInitial,
		backoffMax:     config.BackoffMax,
		clock:          config.Clock,
		logger:         config.Logger,
		malformedLog:   rate.Sometimes{First: 5, Interval: 30 * time.Second},
	}
	client.connection.Store(&Connection{State: StateDisconnected, URL: client.url, Since: client.clock.Now()})
	return client, nil
}

// Connection returns the current connection state.
func (c *Client) Connection() Connection { return *c.connection.Load() }

// Received counts envelopes forwarded since the client started.
func (c *Client) Received() uint64 { return c.received.Load() }

// Malformed counts frames dropped because they failed validation.
func (c *Client) Malformed() uint64 { return c.malformed.Load() }

// Run connects and forwards envelopes to out until ctx is cancelled.
// Failures never end the loop: the client waits BackoffInitial, doubling
// to BackoffMax, and dials again. A connection that was established
// resets the backoff. Run returns nil once ctx is done.
func (c *Client) Run(ctx context.Context, out chan<- agentevent.Envelope) error {
	backoff := c.backoffInitial
	for {
		connected, err := c.session(ctx, out)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil, 0)
			return nil
		}
		if connected {
			backoff = c.backoffInitial
		}

		failure := &ConnectionError{URL: c.url, Attempt: c.attempts.Load(), Err: err}
		c.setState(StateDisconnected, failure, backoff)
		c.logger.Warn("relay connection lost, retrying",
			"url", c.url,
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected, failure, 0)
			return nil
		case <-c.clock.After(backoff):
		}
		backoff = min(backoff*2, c.backoffMax)
	}
}

// session dials once and reads until the connection fails. connected
// reports whether the dial succeeded.
func (c *Client) session(ctx context.Context, out chan<- agentevent.Envelope) (connected bool, err error) {
	c.attempts.Add(1)
	c.setState(StateConnecting, c.Connection().Err, 0)

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(4 * agentevent.MaxRequestBytes)

	c.setState(StateConnected, nil, 0)
	c.logger.Info("connected to relay", "url", c.url)

	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		encoding := agentevent.EncodingJSON
		if messageType == websocket.MessageBinary {
			encoding = agentevent.EncodingCBOR
		}
		envelope, err := agentevent.Decode(data, encoding)
		if err != nil {
			count := c.malformed.Add(1)
			c.malformedLog.Do(func() {
				c.logger.Warn("dropping malformed relay message", "error", err, "malformed", count)
			})
			continue
		}
		select {
		case out <- envelope:
			c.received.Add(1)
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (c *Client) setState(state ConnectionState, err error, backoff time.Duration) {
	c.connection.Store(&Connection{
		State:    state,
		URL:      c.url,
		Since:    c.clock.Now(),
		Err:      err,
		Attempts: c.attempts.Load(),
		Backoff:  backoff,
	})
}
