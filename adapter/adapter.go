// Package adapter defines the bridge event boundary.
//
// The bridge emits a structured event on every state transition: connect,
// disconnect, health changes, reconnect attempts, execution outcomes, and
// shutdown drains. The orchestration layer subscribes through the Bus;
// adapters forward events to downstream systems (webhook POST, Redis
// pub/sub). The bridge itself never depends on any specific notification
// mechanism.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/tether/log"
)

// Event types emitted by the bridge.
const (
	EventConnected          = "connected"
	EventDisconnected       = "disconnected"
	EventHealthChanged      = "health_changed"
	EventReconnectAttempt   = "reconnect_attempt"
	EventReconnected        = "reconnected"
	EventRetriesExhausted   = "retries_exhausted"
	EventExecutionSucceeded = "execution_succeeded"
	EventExecutionFailed    = "execution_failed"
	EventRiskyPayload       = "risky_payload"
	EventFrameRejected      = "frame_rejected"
	EventHostShutdown       = "host_shutdown"
)

// BridgeEvent is the payload published on every bridge state transition.
// Fields not applicable to a given event type are left zero.
type BridgeEvent struct {
	EventType    string `json:"event_type"`
	SessionID    string `json:"session_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	HealthStatus string `json:"health_status,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Timestamp    string `json:"timestamp"` // ISO 8601
}

// Adapter publishes bridge events to a downstream system.
type Adapter interface {
	// Publish sends one event downstream. Must respect context cancellation.
	Publish(ctx context.Context, event *BridgeEvent) error

	// Close releases adapter resources.
	Close() error
}

// publishTimeout bounds a single downstream publish so a slow adapter can
// never back-pressure the bridge.
const publishTimeout = 5 * time.Second

// Bus fans bridge events out to in-process subscribers and configured
// adapters. Subscribers run synchronously on the publishing goroutine and
// must be fast; adapter publishes run on their own goroutine.
type Bus struct {
	mu       sync.Mutex
	subs     []func(*BridgeEvent)
	adapters []Adapter
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewBus creates an event bus. A nil logger discards adapter errors.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers an in-process observer.
func (b *Bus) Subscribe(fn func(*BridgeEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Attach registers a downstream adapter. The bus owns its lifecycle from
// this point and closes it in Close.
func (b *Bus) Attach(a Adapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adapters = append(b.adapters, a)
}

// Publish stamps the event and delivers it to all subscribers and adapters.
// Nil-receiver safe so event emission can be unconditional at call sites.
func (b *Bus) Publish(event *BridgeEvent) {
	if b == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	subs := make([]func(*BridgeEvent), len(b.subs))
	copy(subs, b.subs)
	adapters := make([]Adapter, len(b.adapters))
	copy(adapters, b.adapters)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}

	for _, a := range adapters {
		b.wg.Add(1)
		go func(a Adapter) {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := a.Publish(ctx, event); err != nil {
				b.logger.Warn("adapter publish failed", map[string]any{
					"event_type": event.EventType,
					"error":      err.Error(),
				})
			}
		}(a)
	}
}

// Close waits for in-flight publishes and closes all adapters.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.wg.Wait()

	b.mu.Lock()
	adapters := b.adapters
	b.adapters = nil
	b.mu.Unlock()

	var firstErr error
	for _, a := range adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
