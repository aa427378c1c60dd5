package client

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Sentinel errors for connection and request failures. Callers branch on
// these with errors.Is; the wrapped error carries the detail.
var (
	// ErrConnectionRefused indicates no host is listening at the address.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrConnectTimeout indicates the dial did not complete in time.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrRequestTimeout indicates no response arrived before the deadline.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrDisconnected indicates the session dropped while a request was in flight.
	ErrDisconnected = errors.New("session disconnected")
	// ErrNotConnected indicates an operation on a client with no open session.
	ErrNotConnected = errors.New("not connected")
)

// classifyDialError maps a net.Dial failure onto the client sentinels.
func classifyDialError(addr string, err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("dial %s: %w: %w", addr, ErrConnectionRefused, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("dial %s: %w: %w", addr, ErrConnectTimeout, err)
	}
	return fmt.Errorf("dial %s: %w", addr, err)
}
