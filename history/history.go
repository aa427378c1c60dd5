// Package history keeps a bounded record of script executions.
//
// The Log is a fixed-capacity ring: once full, the oldest record is evicted
// on each append. Records can be queried over the wire and archived to S3
// when the host shuts down.
package history

import (
	"sync"
	"time"
)

// DefaultCapacity is the default ring capacity.
const DefaultCapacity = 256

// Record is one completed script execution.
type Record struct {
	RequestID  string `json:"request_id"`
	Script     string `json:"script"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Logs       string `json:"logs,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Stats summarizes the log contents.
type Stats struct {
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Faulted   int   `json:"faulted"`
	Evicted   int64 `json:"evicted"`
}

// Log is a thread-safe fixed-capacity execution history ring.
type Log struct {
	mu       sync.Mutex
	records  []Record
	capacity int
	evicted  int64
}

// NewLog creates a Log with the given capacity. Zero or negative
// capacity falls back to DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a record, evicting the oldest when the ring is full.
// Stamps the record timestamp if the caller left it empty.
func (l *Log) Append(rec Record) {
	if l == nil {
		return
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == l.capacity {
		l.records = append(l.records[1:], rec)
		l.evicted++
		return
	}
	l.records = append(l.records, rec)
}

// Recent returns up to n most recent records, newest first.
// n <= 0 returns all retained records.
func (l *Log) Recent(n int) []Record {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]Record, n)
	for i := range n {
		out[i] = l.records[len(l.records)-1-i]
	}
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Stats returns counts over the retained records plus the eviction total.
func (l *Log) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Stats{Total: len(l.records), Evicted: l.evicted}
	for _, rec := range l.records {
		switch rec.Status {
		case "success":
			st.Succeeded++
		default:
			st.Faulted++
		}
	}
	return st
}

// Snapshot returns all retained records in append order.
func (l *Log) Snapshot() []Record {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Maps flattens up to n most recent records for wire transport, newest first.
func (l *Log) Maps(n int) []map[string]any {
	recs := l.Recent(n)
	out := make([]map[string]any, len(recs))
	for i, rec := range recs {
		m := map[string]any{
			"request_id":  rec.RequestID,
			"script":      rec.Script,
			"status":      rec.Status,
			"duration_ms": rec.DurationMs,
			"timestamp":   rec.Timestamp,
		}
		if rec.Logs != "" {
			m["logs"] = rec.Logs
		}
		if rec.Diagnostic != "" {
			m["diagnostic"] = rec.Diagnostic
		}
		out[i] = m
	}
	return out
}
