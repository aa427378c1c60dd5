package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/history"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/queue"
	"github.com/pithecene-io/tether/types"
)

// DefaultTickInterval is how often the executor drains the queue.
const DefaultTickInterval = 100 * time.Millisecond

// DefaultMaxPerTick bounds how many requests one tick may process, so a
// burst of queued work cannot starve the host's own loop.
const DefaultMaxPerTick = 10

// Query selectors accepted by MethodQuery.
const (
	QueryScene   = "scene"
	QueryObjects = "objects"
	QueryHistory = "history"
	QueryMetrics = "metrics"
)

// ExecutorConfig configures the serialized executor.
type ExecutorConfig struct {
	// TickInterval is the queue drain period (default 100ms).
	TickInterval time.Duration
	// MaxPerTick bounds requests processed per tick (default 10).
	MaxPerTick int
	// SessionID labels emitted events and history records.
	SessionID string
	// OnShutdown is invoked after a shutdown request has been acknowledged.
	OnShutdown func()
}

// Executor drains the execution queue one request at a time. All scene
// mutation flows through here, which is what makes the unsynchronized
// Scene and Sandbox safe: there is exactly one Executor goroutine.
type Executor struct {
	cfg       ExecutorConfig
	queue     *queue.Queue
	runner    Runner
	scene     *Scene
	history   *history.Log
	collector *metrics.Collector
	bus       *adapter.Bus
	logger    *log.Logger
}

// NewExecutor wires an executor to its queue, runner, and scene.
// history, collector, and bus may be nil; logger falls back to a no-op.
func NewExecutor(cfg ExecutorConfig, q *queue.Queue, runner Runner, scene *Scene,
	hist *history.Log, collector *metrics.Collector, bus *adapter.Bus, logger *log.Logger) *Executor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = DefaultMaxPerTick
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Executor{
		cfg:       cfg,
		queue:     q,
		runner:    runner,
		scene:     scene,
		history:   hist,
		collector: collector,
		bus:       bus,
		logger:    logger,
	}
}

// Run drains the queue on a fixed tick until the context is canceled.
// Call from a single goroutine; this loop is the serialization point.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick processes up to MaxPerTick queued requests and returns how many
// it handled. Exported so hosts embedding the bridge in their own main
// loop can pump it directly instead of running the ticker.
func (e *Executor) Tick(ctx context.Context) int {
	processed := 0
	for processed < e.cfg.MaxPerTick {
		it, ok := e.queue.TryDequeue()
		if !ok {
			break
		}
		it.Resolve(e.process(ctx, it.Request))
		processed++
	}
	return processed
}

// process dispatches one request and always produces a response.
func (e *Executor) process(ctx context.Context, req *types.Request) *types.Response {
	e.collector.IncRequest(string(req.Method))

	switch req.Method {
	case types.MethodPing:
		return types.NewSuccessResponse(req.ID, map[string]any{"pong": true}, "")
	case types.MethodExecute:
		return e.execute(ctx, req)
	case types.MethodQuery:
		return e.query(req)
	case types.MethodShutdown:
		return e.shutdown(req)
	default:
		return types.NewErrorResponse(req.ID, fmt.Sprintf("unknown method %q", req.Method), "")
	}
}

func (e *Executor) execute(ctx context.Context, req *types.Request) *types.Response {
	script := req.Payload
	if strings.TrimSpace(script) == "" {
		return types.NewErrorResponse(req.ID, "empty script", "")
	}

	// Full trust mode: risky patterns are reported, never blocked.
	if found := ScanScript(script); len(found) != 0 {
		e.collector.IncExecRisky()
		e.logger.Warn("script matched risky patterns", map[string]any{
			"request_id": req.ID,
			"patterns":   strings.Join(found, ","),
		})
		e.bus.Publish(&adapter.BridgeEvent{
			EventType: adapter.EventRiskyPayload,
			SessionID: e.cfg.SessionID,
			RequestID: req.ID,
			Detail:    strings.Join(found, ","),
		})
	}

	runCtx := ctx
	if req.DeadlineMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	logs, err := e.runner.Run(runCtx, script)
	durationMs := time.Since(start).Milliseconds()

	if sb, ok := e.runner.(*Sandbox); ok && sb.Truncated() {
		e.collector.IncExecTruncated()
	}

	rec := history.Record{
		RequestID:  req.ID,
		Script:     script,
		DurationMs: durationMs,
		Logs:       logs,
	}

	if err != nil {
		rec.Status = "error"
		rec.Diagnostic = err.Error()
		e.history.Append(rec)
		e.collector.IncExecFault(durationMs)
		e.logger.Warn("execution faulted", map[string]any{
			"request_id":  req.ID,
			"duration_ms": durationMs,
			"diagnostic":  err.Error(),
		})
		e.bus.Publish(&adapter.BridgeEvent{
			EventType:  adapter.EventExecutionFailed,
			SessionID:  e.cfg.SessionID,
			RequestID:  req.ID,
			Detail:     err.Error(),
			DurationMs: durationMs,
		})
		return types.NewErrorResponse(req.ID, err.Error(), logs)
	}

	rec.Status = "success"
	e.history.Append(rec)
	e.collector.IncExecSuccess(durationMs)
	e.logger.Debug("execution succeeded", map[string]any{
		"request_id":  req.ID,
		"duration_ms": durationMs,
	})
	e.bus.Publish(&adapter.BridgeEvent{
		EventType:  adapter.EventExecutionSucceeded,
		SessionID:  e.cfg.SessionID,
		RequestID:  req.ID,
		DurationMs: durationMs,
	})
	return types.NewSuccessResponse(req.ID, map[string]any{
		"executed":    true,
		"duration_ms": durationMs,
	}, logs)
}

func (e *Executor) query(req *types.Request) *types.Response {
	switch req.Payload {
	case QueryScene, "":
		return types.NewSuccessResponse(req.ID, e.scene.Info(), "")
	case QueryObjects:
		objs := e.scene.ObjectList()
		anyObjs := make([]any, len(objs))
		for i, o := range objs {
			anyObjs[i] = o
		}
		return types.NewSuccessResponse(req.ID, map[string]any{"objects": anyObjs}, "")
	case QueryHistory:
		recs := e.history.Maps(0)
		anyRecs := make([]any, len(recs))
		for i, r := range recs {
			anyRecs[i] = r
		}
		st := e.history.Stats()
		return types.NewSuccessResponse(req.ID, map[string]any{
			"records": anyRecs,
			"stats": map[string]any{
				"total":     st.Total,
				"succeeded": st.Succeeded,
				"faulted":   st.Faulted,
				"evicted":   st.Evicted,
			},
		}, "")
	case QueryMetrics:
		return types.NewSuccessResponse(req.ID, e.collector.Snapshot().Map(), "")
	default:
		return types.NewErrorResponse(req.ID, fmt.Sprintf("unknown query selector %q", req.Payload), "")
	}
}

func (e *Executor) shutdown(req *types.Request) *types.Response {
	e.logger.Info("shutdown requested", map[string]any{"request_id": req.ID})
	e.bus.Publish(&adapter.BridgeEvent{
		EventType: adapter.EventHostShutdown,
		SessionID: e.cfg.SessionID,
		RequestID: req.ID,
	})
	if e.cfg.OnShutdown != nil {
		// Deferred to a goroutine so the ack reaches the wire before the
		// listener starts tearing connections down.
		go e.cfg.OnShutdown()
	}
	return types.NewSuccessResponse(req.ID, map[string]any{"stopping": true}, "")
}
