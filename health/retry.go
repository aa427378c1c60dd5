package health

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
)

// ErrRetriesExhausted is returned when every reconnection attempt failed.
var ErrRetriesExhausted = errors.New("reconnection retries exhausted")

// Reconnector is the slice of the client the retry manager drives.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
)

// jitterFraction spreads retry storms: each delay is perturbed by up to
// a quarter of its nominal value in either direction.
const jitterFraction = 0.25

// RetryConfig configures the reconnection retry manager.
type RetryConfig struct {
	// MaxAttempts bounds reconnection attempts (default 5).
	MaxAttempts int
	// BackoffBase is the first retry delay (default 500ms).
	BackoffBase time.Duration
	// BackoffCap bounds the delay growth (default 30s).
	BackoffCap time.Duration
}

// Backoff returns the delay before the given attempt (1-based): the base
// doubled per attempt, capped, with jitter applied.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	capD := c.BackoffCap
	if capD <= 0 {
		capD = DefaultBackoffCap
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= capD {
			delay = capD
			break
		}
	}

	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFraction * float64(delay))
	return delay + jitter
}

// RetryManager re-establishes a dropped session with capped exponential
// backoff, emitting an event per attempt.
type RetryManager struct {
	cfg       RetryConfig
	client    Reconnector
	collector *metrics.Collector
	bus       *adapter.Bus
	logger    *log.Logger
}

// NewRetryManager creates a retry manager. collector and bus may be nil;
// logger falls back to a no-op.
func NewRetryManager(cfg RetryConfig, client Reconnector, collector *metrics.Collector,
	bus *adapter.Bus, logger *log.Logger) *RetryManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &RetryManager{
		cfg:       cfg,
		client:    client,
		collector: collector,
		bus:       bus,
		logger:    logger,
	}
}

// BindRetryManager installs r as cfg.OnUnresponsive and returns the
// trigger so callers can also kick reconnection on a socket-level
// disconnect. The trigger is single-flight: while a reconnection loop is
// running, further triggers are ignored. done (may be nil) receives each
// loop's terminal result, either nil after a successful reconnect or an
// error wrapping ErrRetriesExhausted.
func BindRetryManager(ctx context.Context, cfg *MonitorConfig, r *RetryManager, done func(error)) func() {
	var running atomic.Bool
	trigger := func() {
		if !running.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer running.Store(false)
			err := r.Reconnect(ctx)
			if done != nil {
				done(err)
			}
		}()
	}
	cfg.OnUnresponsive = trigger
	return trigger
}

// Reconnect attempts to re-establish the session, backing off between
// attempts. Returns nil on success, ErrRetriesExhausted after the final
// failure, or the context error if canceled mid-backoff.
func (r *RetryManager) Reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Backoff(attempt - 1)):
			}
		}

		r.collector.IncReconnectAttempt()
		r.logger.Info("reconnection attempt", map[string]any{
			"attempt":      attempt,
			"max_attempts": r.cfg.MaxAttempts,
		})
		r.bus.Publish(&adapter.BridgeEvent{
			EventType: adapter.EventReconnectAttempt,
			Attempt:   attempt,
		})

		lastErr = r.client.Reconnect(ctx)
		if lastErr == nil {
			r.collector.IncReconnect()
			r.logger.Info("reconnected", map[string]any{"attempts": attempt})
			r.bus.Publish(&adapter.BridgeEvent{
				EventType: adapter.EventReconnected,
				Attempt:   attempt,
			})
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	r.logger.Error("reconnection retries exhausted", map[string]any{
		"attempts": r.cfg.MaxAttempts,
		"error":    lastErr.Error(),
	})
	r.bus.Publish(&adapter.BridgeEvent{
		EventType: adapter.EventRetriesExhausted,
		Attempt:   r.cfg.MaxAttempts,
		Detail:    lastErr.Error(),
	})
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.cfg.MaxAttempts, lastErr)
}
