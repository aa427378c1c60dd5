package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tether/types"
)

// kindProbe peeks at the kind field without a full decode.
type kindProbe struct {
	Kind types.MessageKind `msgpack:"kind"`
}

// EncodeRequest serializes a request envelope to msgpack bytes.
func EncodeRequest(req *types.Request) ([]byte, error) {
	if req.Kind == "" {
		req.Kind = types.KindRequest
	}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	return payload, nil
}

// EncodeResponse serializes a response envelope to msgpack bytes.
func EncodeResponse(resp *types.Response) ([]byte, error) {
	if resp.Kind == "" {
		resp.Kind = types.KindResponse
	}
	payload, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response %s: %w", resp.ID, err)
	}
	return payload, nil
}

// Decode decodes a payload into either a *types.Request or a *types.Response,
// discriminated by the kind field.
func Decode(payload []byte) (any, error) {
	var probe kindProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode envelope kind",
			Err:  err,
		}
	}

	switch probe.Kind {
	case types.KindRequest:
		return DecodeRequest(payload)
	case types.KindResponse:
		return DecodeResponse(payload)
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("unknown envelope kind %q", probe.Kind),
		}
	}
}

// DecodeRequest decodes a payload as a request envelope.
func DecodeRequest(payload []byte) (*types.Request, error) {
	var req types.Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode request envelope",
			Err:  err,
		}
	}
	if req.ID == "" {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "request envelope missing id",
		}
	}
	if req.Method == "" {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "request envelope missing method",
		}
	}
	return &req, nil
}

// RecoverRequestID makes a best-effort attempt to pull the request id out
// of a payload that failed full envelope decoding, so the sender can be
// answered before its connection is closed. Returns "" when no id is
// identifiable.
func RecoverRequestID(payload []byte) string {
	var probe struct {
		ID string `msgpack:"id"`
	}
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// DecodeResponse decodes a payload as a response envelope.
func DecodeResponse(payload []byte) (*types.Response, error) {
	var resp types.Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode response envelope",
			Err:  err,
		}
	}
	if resp.ID == "" {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "response envelope missing id",
		}
	}
	return &resp, nil
}
