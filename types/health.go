package types

import "time"

// HealthStatus is the bridge's current assessment of link/host liveness.
type HealthStatus string

// Health states, ordered by severity.
const (
	// HealthHealthy means the last probe succeeded within the warn threshold.
	HealthHealthy HealthStatus = "healthy"
	// HealthSlow means probes succeed but round-trips exceed the warn threshold.
	HealthSlow HealthStatus = "slow"
	// HealthUnresponsive means N consecutive probes have timed out.
	HealthUnresponsive HealthStatus = "unresponsive"
	// HealthDisconnected means the link is down at the socket level.
	HealthDisconnected HealthStatus = "disconnected"
)

// HealthState is the monitor's view of the link. Mutated only by the health
// monitor; everyone else reads a copy through an accessor.
type HealthState struct {
	Status              HealthStatus  `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastProbeTime       time.Time     `json:"last_probe_time"`
	LastRTT             time.Duration `json:"last_rtt"`
}
