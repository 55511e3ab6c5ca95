// Package natsclient manages the platform's NATS connection: connect with
// reconnection handling, subject subscription, and drain-on-close.
package natsclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/X9X0/LabLink-sub003/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Client manages one NATS connection and its subscriptions. Safe for
// concurrent use; Close may be called more than once.
type Client struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	status atomic.Int32

	reconnects atomic.Int32
	closed     atomic.Bool

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username string
	password string
	token    string

	onDisconnect func(error)
	onReconnect  func()
}

// NewClient creates a NATS client with optional configuration. The client
// does not connect until Connect is called.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "empty NATS url")
	}

	c := &Client{
		url:    url,
		logger: slog.Default().With("component", "natsclient"),

		clientName:    "lablink",
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	return c, nil
}

// Connect establishes the NATS connection. Reconnection is handled by the
// underlying client per the configured wait and attempt limits.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Client", "Connect", "client closed")
	}

	c.status.Store(int32(StatusConnecting))

	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(int32(StatusReconnecting))
			c.logger.Warn("NATS disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(int32(StatusConnected))
			c.reconnects.Add(1)
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusDisconnected))
			c.logger.Info("NATS connection closed")
		}),
	}

	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	type connectResult struct {
		conn *nats.Conn
		err  error
	}
	result := make(chan connectResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		result <- connectResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		c.status.Store(int32(StatusDisconnected))
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connect to NATS")
	case r := <-result:
		if r.err != nil {
			c.status.Store(int32(StatusDisconnected))
			return errors.WrapTransient(r.err, "Client", "Connect", "connect to NATS")
		}
		c.mu.Lock()
		c.conn = r.conn
		c.mu.Unlock()
		c.status.Store(int32(StatusConnected))
		c.logger.Info("NATS connected", "url", r.conn.ConnectedUrl())
		return nil
	}
}

// Publish sends data on a subject
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish to "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe registers a handler for a subject. The subscription is tracked
// and drained on Close.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "subscribe to "+subject)
	}

	sub, err := conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe to "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Debug("subscribed", "subject", subject)
	return sub, nil
}

// IsConnected reports whether the underlying connection is up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.IsConnected()
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// Reconnects returns the number of reconnections since Connect
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// Close drains all subscriptions and closes the connection. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	subs := c.subs
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("unsubscribe failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", "error", err)
			conn.Close()
		}
	}()

	select {
	case <-done:
	case <-time.After(c.drainTimeout):
		c.logger.Warn("NATS drain timed out, forcing close")
		conn.Close()
	}

	c.status.Store(int32(StatusDisconnected))
	return nil
}
