package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/history"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/queue"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// DefaultQueueCapacity bounds in-flight requests across all connections.
const DefaultQueueCapacity = 64

// ServerConfig configures the host-side listener.
type ServerConfig struct {
	// Addr is the TCP listen address, e.g. "127.0.0.1:7600".
	Addr string
	// QueueCapacity bounds in-flight requests (default 64).
	QueueCapacity int
	// MaxFrameBytes caps inbound frame size (default 10 MiB).
	MaxFrameBytes int
	// SessionID labels this host session. Empty generates a random one.
	SessionID string
	// Archiver, when set, receives the execution history on Stop.
	Archiver *history.Archiver
}

// Server accepts controller connections and feeds decoded requests into
// the execution queue. Each connection gets a decode goroutine; responses
// are written back on the originating connection, serialized per
// connection by a write mutex.
type Server struct {
	cfg       ServerConfig
	sessionID string
	queue     *queue.Queue
	history   *history.Log
	collector *metrics.Collector
	bus       *adapter.Bus
	logger    *log.Logger

	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
	respWG   sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a host server. The queue is shared with the executor
// that drains it. history, collector, and bus may be nil; logger falls
// back to a no-op.
func NewServer(cfg ServerConfig, q *queue.Queue, hist *history.Log,
	collector *metrics.Collector, bus *adapter.Bus, logger *log.Logger) *Server {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	if logger == nil {
		logger = log.NewNop()
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Server{
		cfg:       cfg,
		sessionID: sessionID,
		queue:     q,
		history:   hist,
		collector: collector,
		bus:       bus,
		logger:    logger.WithSession(sessionID),
		conns:     make(map[net.Conn]struct{}),
	}
}

// SessionID returns the identifier stamped on this server's events.
func (s *Server) SessionID() string {
	return s.sessionID
}

// Listen binds the TCP listener. Call before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info("listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Stop closes the listener.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server not listening, call Listen first")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn reads frames until the connection fails or the server stops.
// One faulty connection never takes down its siblings: fatal frame errors
// close only this conn.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()
	logger := s.logger

	logger.Info("controller connected", map[string]any{"remote": remote})
	s.bus.Publish(&adapter.BridgeEvent{
		EventType: adapter.EventConnected,
		SessionID: s.sessionID,
		Detail:    remote,
	})

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		logger.Info("controller disconnected", map[string]any{"remote": remote})
		s.bus.Publish(&adapter.BridgeEvent{
			EventType: adapter.EventDisconnected,
			SessionID: s.sessionID,
			Detail:    remote,
		})
	}()

	// Serializes response frames written on this connection.
	var writeMu sync.Mutex

	dec := wire.NewFrameDecoder(conn, s.cfg.MaxFrameBytes)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if wire.IsFatalFrameError(err) {
				s.collector.IncFramesRejected()
				logger.Warn("rejecting connection after fatal frame error", map[string]any{
					"remote": remote,
					"error":  err.Error(),
				})
				s.bus.Publish(&adapter.BridgeEvent{
					EventType: adapter.EventFrameRejected,
					SessionID: s.sessionID,
					Detail:    err.Error(),
				})
			}
			return
		}

		req, err := wire.DecodeRequest(payload)
		if err != nil {
			// Malformed payloads are connection-scoped: answer with a
			// final error when the sender is identifiable, then close
			// only this connection.
			s.collector.IncDecodeErrors()
			logger.Warn("closing connection after malformed payload", map[string]any{
				"remote": remote,
				"error":  err.Error(),
			})
			s.bus.Publish(&adapter.BridgeEvent{
				EventType: adapter.EventFrameRejected,
				SessionID: s.sessionID,
				Detail:    err.Error(),
			})
			if id := wire.RecoverRequestID(payload); id != "" {
				s.writeResponse(conn, &writeMu, types.NewErrorResponse(id, err.Error(), ""))
			}
			return
		}

		it := queue.NewItem(req, remote)
		if err := s.queue.Enqueue(it); err != nil {
			s.collector.IncQueueRejected()
			s.writeResponse(conn, &writeMu, types.NewErrorResponse(req.ID, queue.ShutdownDiagnostic, ""))
			return
		}
		s.collector.ObserveQueueDepth(s.queue.Len())

		s.respWG.Add(1)
		go func() {
			defer s.respWG.Done()
			resp := <-it.Response()
			s.writeResponse(conn, &writeMu, resp)
		}()
	}
}

func (s *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, resp *types.Response) {
	payload, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("encode response failed", map[string]any{
			"request_id": resp.ID,
			"error":      err.Error(),
		})
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := wire.WriteFrame(conn, payload, s.cfg.MaxFrameBytes); err != nil {
		s.logger.Warn("write response failed", map[string]any{
			"request_id": resp.ID,
			"error":      err.Error(),
		})
	}
}

// Stop closes the listener, drains the queue with synthetic shutdown
// responses, waits for in-flight responses to flush, closes remaining
// connections, and archives the execution history if an archiver is
// configured. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var archiveErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		if s.listener != nil {
			_ = s.listener.Close()
		}

		drained := s.queue.Close()
		if drained > 0 {
			s.logger.Info("drained execution queue", map[string]any{"residents": drained})
		}

		// Let synthetic and in-flight responses reach the wire.
		done := make(chan struct{})
		go func() {
			s.respWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()

		if s.cfg.Archiver != nil {
			if err := s.cfg.Archiver.Archive(ctx, s.sessionID, s.history); err != nil {
				s.logger.Error("history archive failed", map[string]any{"error": err.Error()})
				archiveErr = err
			}
		}

		s.logger.Info("server stopped", nil)
	})
	return archiveErr
}
