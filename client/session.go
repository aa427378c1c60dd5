package client

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// session owns one TCP connection and the demultiplexing of responses
// back to per-request waiters. A session is never reopened: reconnecting
// builds a fresh session so no stale waiter can observe the new wire.
type session struct {
	conn   net.Conn
	dec    *wire.FrameDecoder
	logger *log.Logger

	maxFrameBytes int

	mu      sync.Mutex
	pending map[string]chan *types.Response
	closed  bool
	// closedCh is closed under mu together with setting closed, so a
	// waiter selecting on it can never miss the transition.
	closedCh chan struct{}

	readDone chan struct{}
}

func newSession(conn net.Conn, maxFrameBytes int, logger *log.Logger) *session {
	s := &session{
		conn:          conn,
		dec:           wire.NewFrameDecoder(conn, maxFrameBytes),
		logger:        logger,
		maxFrameBytes: maxFrameBytes,
		pending:       make(map[string]chan *types.Response),
		closedCh:      make(chan struct{}),
		readDone:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// register adds a waiter for the given request ID. Fails once the session
// has closed.
func (s *session) register(id string) (<-chan *types.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	ch := make(chan *types.Response, 1)
	s.pending[id] = ch
	return ch, nil
}

// unregister removes a waiter, typically after timeout or cancellation.
func (s *session) unregister(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// send writes one request frame. Serialized by the client's send mutex.
func (s *session) send(req *types.Request) error {
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(s.conn, payload, s.maxFrameBytes); err != nil {
		s.close()
		return errors.Join(ErrDisconnected, err)
	}
	return nil
}

// readLoop demultiplexes inbound responses until the connection fails.
func (s *session) readLoop() {
	defer close(s.readDone)
	for {
		payload, err := s.dec.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				s.logger.Warn("session read failed", map[string]any{"error": err.Error()})
			}
			s.close()
			return
		}

		resp, err := wire.DecodeResponse(payload)
		if err != nil {
			s.logger.Warn("dropping undecodable response", map[string]any{"error": err.Error()})
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			// Late response for a timed-out or abandoned request.
			s.logger.Debug("discarding unmatched response", map[string]any{"request_id": resp.ID})
			continue
		}
		ch <- resp
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close marks the session dead and releases every pending waiter. Safe to
// call from the read loop and from Disconnect concurrently.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closedCh)
	s.pending = make(map[string]chan *types.Response)
	s.mu.Unlock()

	_ = s.conn.Close()
}
