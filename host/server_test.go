package host

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tether/history"
	"github.com/pithecene-io/tether/iox"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/queue"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// startBridge brings up a full host: listener, queue, sandbox executor.
// Returns the listen address and a stop func.
func startBridge(t *testing.T) (string, *Server) {
	t.Helper()

	scene := NewScene("main")
	sb := NewSandbox(scene)
	q := queue.New(16)
	hist := history.NewLog(16)
	coll := metrics.NewCollector("sess-test", "")

	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, q, hist, coll, nil, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	exec := NewExecutor(ExecutorConfig{TickInterval: 5 * time.Millisecond}, q, sb, scene, hist, coll, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = srv.Serve()
	}()
	go func() {
		defer wg.Done()
		exec.Run(ctx)
	}()

	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		cancel()
		wg.Wait()
		sb.Close()
	})

	return srv.Addr().String(), srv
}

func dialBridge(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(iox.CloseFunc(conn))
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, req *types.Request) {
	t.Helper()
	if err := wire.WriteFrame(conn, mustEncodeRequest(t, req), 0); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func mustEncodeRequest(t *testing.T, req *types.Request) []byte {
	t.Helper()
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func readResponse(t *testing.T, dec *wire.FrameDecoder) *types.Response {
	t.Helper()
	payload, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServer_PingRoundTrip(t *testing.T) {
	addr, _ := startBridge(t)
	conn := dialBridge(t, addr)
	dec := wire.NewFrameDecoder(conn, 0)

	req := types.NewPingRequest()
	sendRequest(t, conn, req)

	resp := readResponse(t, dec)
	if resp.ID != req.ID {
		t.Errorf("response id = %s, want %s", resp.ID, req.ID)
	}
	if !resp.IsSuccess() || resp.Result["pong"] != true {
		t.Errorf("response = %+v, want pong", resp)
	}
}

func TestServer_ExecuteMutatesScene(t *testing.T) {
	addr, _ := startBridge(t)
	conn := dialBridge(t, addr)
	dec := wire.NewFrameDecoder(conn, 0)

	exec := types.NewExecuteRequest(`scene.add_object("cube", "MESH", {1, 2, 3})`, 0)
	sendRequest(t, conn, exec)
	if resp := readResponse(t, dec); !resp.IsSuccess() {
		t.Fatalf("execute failed: %s", resp.Diagnostic)
	}

	q := types.NewQueryRequest(QueryObjects)
	sendRequest(t, conn, q)
	resp := readResponse(t, dec)
	if !resp.IsSuccess() {
		t.Fatalf("query failed: %s", resp.Diagnostic)
	}
	objs, ok := resp.Result["objects"].([]any)
	if !ok || len(objs) != 1 {
		t.Fatalf("objects = %v, want one entry", resp.Result["objects"])
	}
}

func TestServer_ResponsesMatchRequestIDs(t *testing.T) {
	addr, _ := startBridge(t)
	conn := dialBridge(t, addr)
	dec := wire.NewFrameDecoder(conn, 0)

	reqs := make(map[string]bool)
	for range 5 {
		req := types.NewPingRequest()
		reqs[req.ID] = true
		sendRequest(t, conn, req)
	}

	for range 5 {
		resp := readResponse(t, dec)
		if !reqs[resp.ID] {
			t.Errorf("unexpected response id %s", resp.ID)
		}
		delete(reqs, resp.ID)
	}
	if len(reqs) != 0 {
		t.Errorf("%d requests never answered", len(reqs))
	}
}

func TestServer_FaultKeepsConnectionOpen(t *testing.T) {
	addr, _ := startBridge(t)
	conn := dialBridge(t, addr)
	dec := wire.NewFrameDecoder(conn, 0)

	bad := types.NewExecuteRequest(`error("boom")`, 0)
	sendRequest(t, conn, bad)
	resp := readResponse(t, dec)
	if !resp.IsError() {
		t.Fatal("expected error response for faulting script")
	}

	// Session survives the fault.
	ping := types.NewPingRequest()
	sendRequest(t, conn, ping)
	resp = readResponse(t, dec)
	if resp.ID != ping.ID || !resp.IsSuccess() {
		t.Error("connection unusable after script fault")
	}
}

func TestServer_OversizedFrameIsolatesConnection(t *testing.T) {
	addr, _ := startBridge(t)

	victim := dialBridge(t, addr)
	bystander := dialBridge(t, addr)
	bystanderDec := wire.NewFrameDecoder(bystander, 0)

	// Length prefix far past the limit. The server closes only this conn.
	oversized := []byte{0x7f, 0xff, 0xff, 0xff}
	if _, err := victim.Write(oversized); err != nil {
		t.Fatalf("write prefix: %v", err)
	}

	victimDec := wire.NewFrameDecoder(victim, 0)
	if _, err := victimDec.ReadFrame(); err == nil {
		t.Error("expected victim connection to be closed")
	}

	ping := types.NewPingRequest()
	sendRequest(t, bystander, ping)
	resp := readResponse(t, bystanderDec)
	if resp.ID != ping.ID {
		t.Error("bystander connection disturbed by sibling's fatal frame")
	}
}

func TestServer_MalformedPayloadClosesConnection(t *testing.T) {
	addr, _ := startBridge(t)

	victim := dialBridge(t, addr)
	bystander := dialBridge(t, addr)
	bystanderDec := wire.NewFrameDecoder(bystander, 0)

	// Well-framed garbage: no id is recoverable, so no response is owed
	// and only this connection is closed.
	if err := wire.WriteFrame(victim, []byte{0xc1, 0x00, 0xff}, 0); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	// A ping sent after the garbage must never round-trip.
	ping := types.NewPingRequest()
	_ = wire.WriteFrame(victim, mustEncodeRequest(t, ping), 0)

	victimDec := wire.NewFrameDecoder(victim, 0)
	if resp, err := victimDec.ReadFrame(); err == nil {
		t.Errorf("connection still open after malformed payload: got frame %x", resp)
	}

	// Sibling sessions are untouched.
	bystanderPing := types.NewPingRequest()
	sendRequest(t, bystander, bystanderPing)
	resp := readResponse(t, bystanderDec)
	if resp.ID != bystanderPing.ID {
		t.Error("bystander connection disturbed by sibling's malformed payload")
	}
}

func TestServer_MalformedPayloadAnswersIdentifiableSender(t *testing.T) {
	addr, _ := startBridge(t)
	conn := dialBridge(t, addr)
	dec := wire.NewFrameDecoder(conn, 0)

	// An envelope carrying an id but no method fails request decoding;
	// the sender is identifiable, so a final error response precedes
	// the close.
	payload, err := msgpack.Marshal(map[string]any{
		"kind": "request",
		"id":   "req-partial",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wire.WriteFrame(conn, payload, 0); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	resp := readResponse(t, dec)
	if resp.ID != "req-partial" {
		t.Errorf("response id = %s, want req-partial", resp.ID)
	}
	if !resp.IsError() {
		t.Error("expected error response for malformed request")
	}

	if _, err := dec.ReadFrame(); err == nil {
		t.Error("connection left open after malformed payload")
	}
}

func TestServer_ExecutionSerializedAcrossConnections(t *testing.T) {
	runner := &countingRunner{delay: time.Millisecond}
	scene := NewScene("main")
	q := queue.New(64)

	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, q, nil, nil, nil, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	exec := NewExecutor(ExecutorConfig{
		TickInterval: time.Millisecond,
		MaxPerTick:   8,
	}, q, runner, scene, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve() }()
	go exec.Run(ctx)
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		cancel()
	})

	// 50 concurrent callers across 10 sessions; the runner must never
	// observe two executions at once.
	const sessions, perSession = 10, 5
	errs := make(chan error, sessions)
	var wg sync.WaitGroup
	wg.Add(sessions)
	for range sessions {
		go func() {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer func() { _ = conn.Close() }()
			dec := wire.NewFrameDecoder(conn, 0)

			pending := map[string]bool{}
			for range perSession {
				req := types.NewExecuteRequest("print(1)", 0)
				payload, err := wire.EncodeRequest(req)
				if err != nil {
					errs <- err
					return
				}
				if err := wire.WriteFrame(conn, payload, 0); err != nil {
					errs <- err
					return
				}
				pending[req.ID] = true
			}
			for range perSession {
				p, err := dec.ReadFrame()
				if err != nil {
					errs <- err
					return
				}
				resp, err := wire.DecodeResponse(p)
				if err != nil {
					errs <- err
					return
				}
				if !pending[resp.ID] {
					errs <- fmt.Errorf("unexpected response id %s", resp.ID)
					return
				}
				delete(pending, resp.ID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("session failed: %v", err)
	}

	if runs := runner.runs.Load(); runs != sessions*perSession {
		t.Errorf("runs = %d, want %d", runs, sessions*perSession)
	}
	if runner.overlap.Load() {
		t.Error("executions overlapped across connections")
	}
}

func TestServer_ShutdownMethodStopsHost(t *testing.T) {
	scene := NewScene("main")
	sb := NewSandbox(scene)
	defer sb.Close()
	q := queue.New(16)

	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, q, nil, nil, nil, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	stopped := make(chan struct{})
	exec := NewExecutor(ExecutorConfig{
		TickInterval: 5 * time.Millisecond,
		OnShutdown: func() {
			_ = srv.Stop(context.Background())
			close(stopped)
		},
	}, q, sb, scene, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan struct{})
	go func() {
		_ = srv.Serve()
		close(serveDone)
	}()
	go exec.Run(ctx)

	conn := dialBridge(t, srv.Addr().String())
	dec := wire.NewFrameDecoder(conn, 0)

	req := types.NewRequest(types.MethodShutdown, "", 0)
	sendRequest(t, conn, req)

	resp := readResponse(t, dec)
	if !resp.IsSuccess() || resp.Result["stopping"] != true {
		t.Fatalf("shutdown ack = %+v", resp)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("server never stopped after shutdown request")
	}
	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	if !q.Closed() {
		t.Error("queue not closed on stop")
	}
}

func TestServer_StopDrainsQueue(t *testing.T) {
	q := queue.New(16)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, q, nil, nil, nil, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()

	// No executor running: the request sits in the queue until Stop
	// resolves it synthetically.
	conn := dialBridge(t, srv.Addr().String())
	dec := wire.NewFrameDecoder(conn, 0)

	req := types.NewExecuteRequest("print(1)", 0)
	sendRequest(t, conn, req)

	// Give the decode loop time to enqueue.
	deadline := time.Now().Add(time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.Len() != 1 {
		t.Fatal("request never enqueued")
	}

	go func() { _ = srv.Stop(context.Background()) }()

	resp := readResponse(t, dec)
	if resp.ID != req.ID {
		t.Errorf("response id = %s, want %s", resp.ID, req.ID)
	}
	if !resp.IsError() || resp.Diagnostic != queue.ShutdownDiagnostic {
		t.Errorf("response = %+v, want shutdown diagnostic", resp)
	}
}
