// Package health tracks host liveness from the controller side and
// manages reconnection with capped exponential backoff.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/types"
)

// Pinger is the slice of the client the monitor probes through.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
	Connected() bool
}

// Monitor defaults.
const (
	DefaultProbeInterval         = 2 * time.Second
	DefaultWarnRTT               = 500 * time.Millisecond
	DefaultUnresponsiveThreshold = 3
)

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// ProbeInterval is the time between liveness probes (default 2s).
	ProbeInterval time.Duration
	// WarnRTT is the round-trip time above which a healthy host is
	// reported slow (default 500ms).
	WarnRTT time.Duration
	// UnresponsiveThreshold is the consecutive probe failures before the
	// host is declared unresponsive (default 3).
	UnresponsiveThreshold int
	// OnUnresponsive is invoked once per healthy-to-unresponsive
	// transition, typically to kick off the retry manager.
	OnUnresponsive func()
}

// Monitor probes the host on a fixed interval and derives a health state
// from probe outcomes. State transitions are published on the event bus.
type Monitor struct {
	cfg    MonitorConfig
	pinger Pinger
	bus    *adapter.Bus
	logger *log.Logger

	mu    sync.Mutex
	state types.HealthState
}

// NewMonitor creates a monitor. bus may be nil; logger falls back to a no-op.
func NewMonitor(cfg MonitorConfig, pinger Pinger, bus *adapter.Bus, logger *log.Logger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.WarnRTT <= 0 {
		cfg.WarnRTT = DefaultWarnRTT
	}
	if cfg.UnresponsiveThreshold <= 0 {
		cfg.UnresponsiveThreshold = DefaultUnresponsiveThreshold
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Monitor{
		cfg:    cfg,
		pinger: pinger,
		bus:    bus,
		logger: logger,
		state:  types.HealthState{Status: types.HealthDisconnected},
	}
}

// State returns a copy of the current health state.
func (m *Monitor) State() types.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run probes until the context is canceled. The first probe fires after
// one interval, not immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe performs one liveness check and updates the health state.
// Exported so the status TUI can probe on demand between intervals.
func (m *Monitor) Probe(ctx context.Context) types.HealthState {
	if !m.pinger.Connected() {
		return m.transition(types.HealthDisconnected, 0, "no session")
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeInterval)
	rtt, err := m.pinger.Ping(probeCtx)
	cancel()

	if err != nil {
		// Increment and read under one lock so concurrent probes (the
		// Run loop plus on-demand refreshes) never lose a failure.
		m.mu.Lock()
		m.state.ConsecutiveFailures++
		m.state.LastProbeTime = time.Now()
		failures := m.state.ConsecutiveFailures
		state := m.state
		m.mu.Unlock()

		if failures >= m.cfg.UnresponsiveThreshold {
			return m.transition(types.HealthUnresponsive, 0, err.Error())
		}

		// Status unchanged: a single dropped probe does not flap a
		// healthy host.
		m.logger.Warn("probe failed", map[string]any{
			"consecutive_failures": failures,
			"detail":               err.Error(),
		})
		return state
	}

	if rtt > m.cfg.WarnRTT {
		return m.transition(types.HealthSlow, rtt, "")
	}
	return m.transition(types.HealthHealthy, rtt, "")
}

func (m *Monitor) transition(status types.HealthStatus, rtt time.Duration, detail string) types.HealthState {
	m.mu.Lock()
	prev := m.state.Status
	m.state.Status = status
	m.state.LastProbeTime = time.Now()
	if rtt > 0 {
		m.state.LastRTT = rtt
	}
	switch status {
	case types.HealthHealthy, types.HealthSlow:
		m.state.ConsecutiveFailures = 0
	case types.HealthUnresponsive:
		m.state.ConsecutiveFailures = m.cfg.UnresponsiveThreshold
	}
	state := m.state
	m.mu.Unlock()

	if prev == status {
		return state
	}

	m.logger.Info("health changed", map[string]any{
		"from":   string(prev),
		"to":     string(status),
		"detail": detail,
	})
	m.bus.Publish(&adapter.BridgeEvent{
		EventType:    adapter.EventHealthChanged,
		HealthStatus: string(status),
		Detail:       detail,
	})

	if status == types.HealthUnresponsive && m.cfg.OnUnresponsive != nil {
		m.cfg.OnUnresponsive()
	}
	return state
}
