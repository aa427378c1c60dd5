// Package metrics provides per-session metrics collection for the bridge.
//
// The Collector accumulates counters while a host session is live. It is a
// leaf package with no internal dependencies. Queue depth is tracked as a
// high-water mark observed at enqueue time rather than sampled.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all bridge metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Requests
	RequestsReceived int64
	RequestsByMethod map[string]int64

	// Execution
	ExecSuccess   int64
	ExecFault     int64
	ExecRisky     int64
	ExecTotalMs   int64
	ExecTruncated int64

	// Wire
	DecodeErrors   int64
	FramesRejected int64

	// Queue
	QueueHighWater int64
	QueueRejected  int64

	// Controller side
	ProbesSent        int64
	ProbesFailed      int64
	ReconnectAttempts int64
	Reconnects        int64

	// Dimensions (informational, set at construction)
	SessionID string
	Addr      string
}

// Collector accumulates metrics for a bridge endpoint.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsReceived int64
	requestsByMethod map[string]int64

	execSuccess   int64
	execFault     int64
	execRisky     int64
	execTotalMs   int64
	execTruncated int64

	decodeErrors   int64
	framesRejected int64

	queueHighWater int64
	queueRejected  int64

	probesSent        int64
	probesFailed      int64
	reconnectAttempts int64
	reconnects        int64

	sessionID string
	addr      string
}

// NewCollector creates a Collector with dimension labels.
// sessionID and addr are optional dimensions.
func NewCollector(sessionID, addr string) *Collector {
	return &Collector{
		requestsByMethod: make(map[string]int64),
		sessionID:        sessionID,
		addr:             addr,
	}
}

// --- Requests ---

// IncRequest records a received request, keyed by method.
func (c *Collector) IncRequest(method string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsReceived++
	c.requestsByMethod[method]++
	c.mu.Unlock()
}

// --- Execution ---

// IncExecSuccess records a successful script execution and its duration.
func (c *Collector) IncExecSuccess(durationMs int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.execSuccess++
	c.execTotalMs += durationMs
	c.mu.Unlock()
}

// IncExecFault records a script execution that raised a fault.
func (c *Collector) IncExecFault(durationMs int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.execFault++
	c.execTotalMs += durationMs
	c.mu.Unlock()
}

// IncExecRisky records a script flagged by the risky-pattern scan.
// The script still runs; this counter tracks flag volume only.
func (c *Collector) IncExecRisky() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.execRisky++
	c.mu.Unlock()
}

// IncExecTruncated records an execution whose captured output was truncated.
func (c *Collector) IncExecTruncated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.execTruncated++
	c.mu.Unlock()
}

// --- Wire ---

// IncDecodeErrors records a payload that failed msgpack decoding.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncFramesRejected records a frame rejected for exceeding the size limit.
func (c *Collector) IncFramesRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesRejected++
	c.mu.Unlock()
}

// --- Queue ---

// ObserveQueueDepth updates the queue high-water mark.
func (c *Collector) ObserveQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if int64(depth) > c.queueHighWater {
		c.queueHighWater = int64(depth)
	}
	c.mu.Unlock()
}

// IncQueueRejected records a request refused because the queue was closed.
func (c *Collector) IncQueueRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queueRejected++
	c.mu.Unlock()
}

// --- Controller side ---

// IncProbeSent records a health probe dispatch.
func (c *Collector) IncProbeSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.probesSent++
	c.mu.Unlock()
}

// IncProbeFailed records a health probe timeout or error.
func (c *Collector) IncProbeFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.probesFailed++
	c.mu.Unlock()
}

// IncReconnectAttempt records a reconnection attempt.
func (c *Collector) IncReconnectAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnectAttempts++
	c.mu.Unlock()
}

// IncReconnect records a successful reconnection.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byMethod := make(map[string]int64, len(c.requestsByMethod))
	for k, v := range c.requestsByMethod {
		byMethod[k] = v
	}

	return Snapshot{
		RequestsReceived: c.requestsReceived,
		RequestsByMethod: byMethod,

		ExecSuccess:   c.execSuccess,
		ExecFault:     c.execFault,
		ExecRisky:     c.execRisky,
		ExecTotalMs:   c.execTotalMs,
		ExecTruncated: c.execTruncated,

		DecodeErrors:   c.decodeErrors,
		FramesRejected: c.framesRejected,

		QueueHighWater: c.queueHighWater,
		QueueRejected:  c.queueRejected,

		ProbesSent:        c.probesSent,
		ProbesFailed:      c.probesFailed,
		ReconnectAttempts: c.reconnectAttempts,
		Reconnects:        c.reconnects,

		SessionID: c.sessionID,
		Addr:      c.addr,
	}
}

// Map flattens the snapshot for wire transport in a query response.
// The per-method breakdown keeps its own nested map.
func (s Snapshot) Map() map[string]any {
	byMethod := make(map[string]any, len(s.RequestsByMethod))
	for k, v := range s.RequestsByMethod {
		byMethod[k] = v
	}

	return map[string]any{
		"requests_received":  s.RequestsReceived,
		"requests_by_method": byMethod,
		"exec_success":       s.ExecSuccess,
		"exec_fault":         s.ExecFault,
		"exec_risky":         s.ExecRisky,
		"exec_total_ms":      s.ExecTotalMs,
		"exec_truncated":     s.ExecTruncated,
		"decode_errors":      s.DecodeErrors,
		"frames_rejected":    s.FramesRejected,
		"queue_high_water":   s.QueueHighWater,
		"queue_rejected":     s.QueueRejected,
		"probes_sent":        s.ProbesSent,
		"probes_failed":      s.ProbesFailed,
		"reconnect_attempts": s.ReconnectAttempts,
		"reconnects":         s.Reconnects,
		"session_id":         s.SessionID,
		"addr":               s.Addr,
	}
}
