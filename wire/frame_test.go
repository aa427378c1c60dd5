package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/pithecene-io/tether/types"
)

// frame builds a length-prefixed frame around payload.
func frame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestWriteFrame_ReadFrame_RoundTrip(t *testing.T) {
	payload := []byte("arbitrary bytes \x00\xff including nulls")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload, 0); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	decoder := NewFrameDecoder(&buf, 0)
	got, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestReadFrame_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range payloads {
		if err := WriteFrame(&buf, p, 0); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	decoder := NewFrameDecoder(&buf, 0)
	for i, want := range payloads {
		got, err := decoder.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}

	if _, err := decoder.ReadFrame(); err != io.EOF {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	// Declared length above the limit; body absent on purpose.
	var hdr [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(hdr[:], 1024+1)

	decoder := NewFrameDecoder(bytes.NewReader(hdr[:]), 1024)
	_, err := decoder.ReadFrame()
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("errors.Is(err, ErrFrameTooLarge) = false, err = %v", err)
	}
	if !IsFatalFrameError(err) {
		t.Error("oversized frame should be fatal")
	}
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	full := frame([]byte("complete payload"))
	truncated := full[:len(full)-5]

	decoder := NewFrameDecoder(bytes.NewReader(truncated), 0)
	_, err := decoder.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("partial frame should be fatal")
	}
}

func TestReadFrame_TruncatedPrefix(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x01}), 0)
	_, err := decoder.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestReadFrame_EmptyStream(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil), 0)
	if _, err := decoder.ReadFrame(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestWriteFrame_RejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, 100), 64)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("errors.Is(err, ErrFrameTooLarge) = false, err = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written on rejection, wrote %d bytes", buf.Len())
	}
}

func TestFrameError_SentinelMapping(t *testing.T) {
	tests := []struct {
		name     string
		kind     FrameErrorKind
		sentinel error
		match    bool
	}{
		{"too_large matches ErrFrameTooLarge", FrameErrorTooLarge, ErrFrameTooLarge, true},
		{"decode matches ErrMalformedPayload", FrameErrorDecode, ErrMalformedPayload, true},
		{"partial matches neither", FrameErrorPartial, ErrFrameTooLarge, false},
		{"decode does not match ErrFrameTooLarge", FrameErrorDecode, ErrFrameTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &FrameError{Kind: tt.kind, Msg: "test"}
			if got := errors.Is(err, tt.sentinel); got != tt.match {
				t.Errorf("errors.Is = %v, want %v", got, tt.match)
			}
		})
	}
}

func TestReadFrame_RequestOverConnection(t *testing.T) {
	req := types.NewExecuteRequest("scene.add_object('cube', 'MESH')", 5000)
	payload, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload, 0); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	decoder := NewFrameDecoder(&buf, 0)
	raw, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	decoded, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if decoded.ID != req.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, req.ID)
	}
}
