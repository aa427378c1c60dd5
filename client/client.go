// Package client implements the controller side of the execution bridge:
// connecting to a host, sending requests, and matching responses to
// waiters by request ID.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// DefaultConnectTimeout bounds the TCP dial.
const DefaultConnectTimeout = 5 * time.Second

// DefaultRequestTimeout bounds a request waiting for its response when the
// request itself carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Config configures a bridge client.
type Config struct {
	// Addr is the host address, e.g. "127.0.0.1:7600".
	Addr string
	// ConnectTimeout bounds the dial (default 5s).
	ConnectTimeout time.Duration
	// RequestTimeout is the default per-request deadline (default 30s).
	RequestTimeout time.Duration
	// MaxFrameBytes caps inbound frame size (default 10 MiB).
	MaxFrameBytes int
}

// Client is a controller-side bridge endpoint. Multiple goroutines may
// send concurrently; responses are demultiplexed by request ID.
type Client struct {
	cfg       Config
	logger    *log.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	sess    *session
	writeMu sync.Mutex
}

// New creates a client. logger may be nil; collector may be nil.
func New(cfg Config, collector *metrics.Collector, logger *log.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{cfg: cfg, logger: logger, collector: collector}
}

// Connect dials the host and starts the response demultiplexer.
// A client already connected returns nil without redialing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && !c.sess.isClosed() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return classifyDialError(c.cfg.Addr, err)
	}

	c.sess = newSession(conn, c.cfg.MaxFrameBytes, c.logger)
	c.logger.Info("connected", map[string]any{"addr": c.cfg.Addr})
	return nil
}

// Disconnect closes the session. Pending requests fail with ErrDisconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		c.logger.Info("disconnected", map[string]any{"addr": c.cfg.Addr})
	}
}

// Reconnect tears down any existing session and dials a fresh one.
// Waiters on the old session are released with ErrDisconnected; none of
// them can ever observe a response from the new wire.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

// Connected reports whether the client has a live session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && !c.sess.isClosed()
}

func (c *Client) currentSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.isClosed() {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// Send dispatches a request and blocks for its response. The deadline is,
// in order of precedence: the request's own DeadlineMs, the context, the
// configured default. Exactly one of response or error is returned.
func (c *Client) Send(ctx context.Context, req *types.Request) (*types.Response, error) {
	sess, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	timeout := c.cfg.RequestTimeout
	if req.DeadlineMs > 0 {
		timeout = time.Duration(req.DeadlineMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	respCh, err := sess.register(req.ID)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	err = sess.send(req)
	c.writeMu.Unlock()
	if err != nil {
		sess.unregister(req.ID)
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-sess.closedCh:
		// A response delivered just before the close still wins.
		select {
		case resp := <-respCh:
			return resp, nil
		default:
		}
		return nil, ErrDisconnected
	case <-ctx.Done():
		sess.unregister(req.ID)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("request %s: %w", req.ID, ErrRequestTimeout)
		}
		return nil, ctx.Err()
	}
}

// Execute runs a script on the host. deadlineMs of 0 uses the default
// request timeout.
func (c *Client) Execute(ctx context.Context, script string, deadlineMs int64) (*types.Response, error) {
	return c.Send(ctx, types.NewExecuteRequest(script, deadlineMs))
}

// Query reads host state by selector (scene, objects, history, metrics).
func (c *Client) Query(ctx context.Context, selector string) (*types.Response, error) {
	return c.Send(ctx, types.NewQueryRequest(selector))
}

// Shutdown asks the host to stop gracefully.
func (c *Client) Shutdown(ctx context.Context) (*types.Response, error) {
	return c.Send(ctx, types.NewRequest(types.MethodShutdown, "", 0))
}

// Ping probes host liveness and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	c.collector.IncProbeSent()
	start := time.Now()
	resp, err := c.Send(ctx, types.NewPingRequest())
	if err != nil {
		c.collector.IncProbeFailed()
		return 0, err
	}
	if resp.IsError() {
		c.collector.IncProbeFailed()
		return 0, fmt.Errorf("ping rejected: %s", resp.Diagnostic)
	}
	return time.Since(start), nil
}
