package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestLog_AppendAndRecent(t *testing.T) {
	l := NewLog(10)

	for i := range 3 {
		l.Append(Record{RequestID: fmt.Sprintf("req-%d", i), Status: "success"})
	}

	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}

	recent := l.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d records, want 2", len(recent))
	}
	// Newest first
	if recent[0].RequestID != "req-2" || recent[1].RequestID != "req-1" {
		t.Errorf("Recent order wrong: %s, %s", recent[0].RequestID, recent[1].RequestID)
	}

	all := l.Recent(0)
	if len(all) != 3 {
		t.Errorf("Recent(0) returned %d records, want all 3", len(all))
	}
}

func TestLog_EvictsOldest(t *testing.T) {
	l := NewLog(3)

	for i := range 5 {
		l.Append(Record{RequestID: fmt.Sprintf("req-%d", i), Status: "success"})
	}

	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}

	snap := l.Snapshot()
	if snap[0].RequestID != "req-2" {
		t.Errorf("oldest retained = %s, want req-2", snap[0].RequestID)
	}
	if snap[2].RequestID != "req-4" {
		t.Errorf("newest retained = %s, want req-4", snap[2].RequestID)
	}

	if st := l.Stats(); st.Evicted != 2 {
		t.Errorf("Evicted = %d, want 2", st.Evicted)
	}
}

func TestLog_StampsTimestamp(t *testing.T) {
	l := NewLog(4)
	l.Append(Record{RequestID: "req-0", Status: "success"})
	l.Append(Record{RequestID: "req-1", Status: "error", Timestamp: "2026-01-01T00:00:00Z"})

	snap := l.Snapshot()
	if snap[0].Timestamp == "" {
		t.Error("Append did not stamp an empty timestamp")
	}
	if snap[1].Timestamp != "2026-01-01T00:00:00Z" {
		t.Errorf("Append overwrote caller timestamp: %s", snap[1].Timestamp)
	}
}

func TestLog_Stats(t *testing.T) {
	l := NewLog(10)
	l.Append(Record{RequestID: "a", Status: "success"})
	l.Append(Record{RequestID: "b", Status: "success"})
	l.Append(Record{RequestID: "c", Status: "error"})

	st := l.Stats()
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3", st.Total)
	}
	if st.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", st.Succeeded)
	}
	if st.Faulted != 1 {
		t.Errorf("Faulted = %d, want 1", st.Faulted)
	}
}

func TestLog_Maps(t *testing.T) {
	l := NewLog(10)
	l.Append(Record{RequestID: "a", Script: "print(1)", Status: "success", DurationMs: 4, Logs: "1\n"})
	l.Append(Record{RequestID: "b", Script: "oops", Status: "error", Diagnostic: "undefined"})

	maps := l.Maps(0)
	if len(maps) != 2 {
		t.Fatalf("Maps returned %d entries, want 2", len(maps))
	}
	// Newest first
	if maps[0]["request_id"] != "b" {
		t.Errorf("maps[0].request_id = %v, want b", maps[0]["request_id"])
	}
	if maps[0]["diagnostic"] != "undefined" {
		t.Errorf("maps[0].diagnostic = %v, want undefined", maps[0]["diagnostic"])
	}
	if _, exists := maps[0]["logs"]; exists {
		t.Error("empty logs should be omitted from the map")
	}
	if maps[1]["logs"] != "1\n" {
		t.Errorf("maps[1].logs = %v, want captured output", maps[1]["logs"])
	}
}

func TestLog_NilReceiverSafe(t *testing.T) {
	var l *Log
	l.Append(Record{RequestID: "a"})
	if l.Len() != 0 {
		t.Error("nil log Len should be 0")
	}
	if l.Recent(5) != nil {
		t.Error("nil log Recent should be nil")
	}
	if st := l.Stats(); st.Total != 0 {
		t.Error("nil log Stats should be zero")
	}
}

// fakePutter records PutObject calls for archive assertions.
type fakePutter struct {
	bucket string
	key    string
	body   []byte
	err    error
	calls  int
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	f.bucket = *params.Bucket
	f.key = *params.Key
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, f.err
}

func testArchiver(cfg S3Config, putter objectPutter) *Archiver {
	return &Archiver{
		cfg:    cfg,
		client: putter,
		now: func() time.Time {
			return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		},
	}
}

func TestArchiver_UploadsJSONL(t *testing.T) {
	l := NewLog(10)
	l.Append(Record{RequestID: "a", Script: "print(1)", Status: "success", Timestamp: "2026-08-24T11:59:00Z"})
	l.Append(Record{RequestID: "b", Script: "oops", Status: "error", Timestamp: "2026-08-24T11:59:30Z"})

	putter := &fakePutter{}
	a := testArchiver(S3Config{Bucket: "bridge-history", Prefix: "archive"}, putter)

	if err := a.Archive(context.Background(), "sess-001", l); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	if putter.bucket != "bridge-history" {
		t.Errorf("bucket = %s, want bridge-history", putter.bucket)
	}
	wantKey := "archive/sess-001/20260824T120000Z.jsonl"
	if putter.key != wantKey {
		t.Errorf("key = %s, want %s", putter.key, wantKey)
	}

	lines := bytes.Split(bytes.TrimSpace(putter.body), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("body has %d lines, want 2", len(lines))
	}
	var first Record
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.RequestID != "a" {
		t.Errorf("first line request_id = %s, want a", first.RequestID)
	}
}

func TestArchiver_EmptyLogIsNoop(t *testing.T) {
	putter := &fakePutter{}
	a := testArchiver(S3Config{Bucket: "bridge-history"}, putter)

	if err := a.Archive(context.Background(), "sess-001", NewLog(4)); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if putter.calls != 0 {
		t.Errorf("PutObject called %d times for empty log, want 0", putter.calls)
	}
}

func TestArchiver_KeyWithoutPrefix(t *testing.T) {
	l := NewLog(4)
	l.Append(Record{RequestID: "a", Status: "success"})

	putter := &fakePutter{}
	a := testArchiver(S3Config{Bucket: "bridge-history"}, putter)

	if err := a.Archive(context.Background(), "sess-9", l); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if putter.key != "sess-9/20260824T120000Z.jsonl" {
		t.Errorf("key = %s, want sess-9/20260824T120000Z.jsonl", putter.key)
	}
}

func TestS3Config_Validate(t *testing.T) {
	cfg := &S3Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	cfg.Bucket = "b"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}
