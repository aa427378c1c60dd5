// Package wire implements bridge message framing and envelope serialization.
//
// Frame layout: a 4-byte big-endian length prefix followed by exactly that
// many payload bytes. Payloads are msgpack-encoded Request/Response
// envelopes discriminated by their kind field. The codec is symmetric and
// side-effect free: Decode(Encode(x)) == x for every valid envelope.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// DefaultMaxFrameBytes is the default maximum payload size (10 MiB).
	// Bounded so a corrupted or hostile length prefix cannot force an
	// unbounded allocation.
	DefaultMaxFrameBytes = 10 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Sentinel errors for errors.Is assertions on frame failures.
var (
	// ErrFrameTooLarge indicates a declared length above the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrMalformedPayload indicates a payload that does not decode into an envelope.
	ErrMalformedPayload = errors.New("malformed payload")
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding the configured maximum.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack or envelope decoding error.
	FrameErrorDecode
)

// FrameError represents a frame encoding or decoding failure.
// Partial and oversized frames are connection-fatal: the stream position is
// no longer trustworthy and the connection must be closed. Decode errors are
// payload-scoped and leave the stream usable.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Is maps error kinds onto the package sentinels.
func (e *FrameError) Is(target error) bool {
	switch target {
	case ErrFrameTooLarge:
		return e.Kind == FrameErrorTooLarge
	case ErrMalformedPayload:
		return e.Kind == FrameErrorDecode
	}
	return false
}

// IsFatal reports whether the error must tear down the connection.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a connection-fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream. Partial reads
// are absorbed by io.ReadFull, so a decoder can sit directly on a TCP
// connection without additional buffering.
type FrameDecoder struct {
	reader   io.Reader
	maxBytes uint32
}

// NewFrameDecoder creates a decoder with the given payload limit.
// A maxBytes of 0 selects DefaultMaxFrameBytes.
func NewFrameDecoder(r io.Reader, maxBytes int) *FrameDecoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameDecoder{reader: r, maxBytes: uint32(maxBytes)}
}

// ReadFrame reads a single frame and returns the raw payload bytes.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])

	if payloadSize > d.maxBytes {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, d.maxBytes),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// WriteFrame writes a single length-prefixed frame to w.
// Fails with FrameErrorTooLarge before writing anything if the payload
// exceeds maxBytes (0 selects DefaultMaxFrameBytes).
func WriteFrame(w io.Writer, payload []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	if len(payload) > maxBytes {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), maxBytes),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
