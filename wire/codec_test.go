package wire

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pithecene-io/tether/types"
)

func TestCodec_RequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  *types.Request
	}{
		{
			name: "execute with payload and deadline",
			req:  types.NewExecuteRequest("print('hello')", 5000),
		},
		{
			name: "ping with empty payload",
			req:  types.NewPingRequest(),
		},
		{
			name: "query selector",
			req:  types.NewQueryRequest("objects"),
		},
		{
			name: "payload with arbitrary bytes",
			req:  types.NewExecuteRequest("-- \x00\x01\xfe binary-ish comment", 100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeRequest(tt.req)
			if err != nil {
				t.Fatalf("EncodeRequest failed: %v", err)
			}
			got, err := DecodeRequest(payload)
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.req) {
				t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", got, tt.req)
			}
		})
	}
}

func TestCodec_ResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp *types.Response
	}{
		{
			name: "success with result and logs",
			resp: types.NewSuccessResponse("req-1", map[string]any{"pong": true}, "output line\n"),
		},
		{
			name: "error with diagnostic",
			resp: types.NewErrorResponse("req-2", "attempt to call a nil value", "partial output"),
		},
		{
			name: "success with empty result",
			resp: types.NewSuccessResponse("req-3", nil, ""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeResponse(tt.resp)
			if err != nil {
				t.Fatalf("EncodeResponse failed: %v", err)
			}
			got, err := DecodeResponse(payload)
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			if got.ID != tt.resp.ID || got.Status != tt.resp.Status ||
				got.Logs != tt.resp.Logs || got.Diagnostic != tt.resp.Diagnostic {
				t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", got, tt.resp)
			}
		})
	}
}

func TestDecode_DiscriminatesByKind(t *testing.T) {
	reqPayload, err := EncodeRequest(types.NewPingRequest())
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	respPayload, err := EncodeResponse(types.NewSuccessResponse("id-1", nil, ""))
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}

	reqMsg, err := Decode(reqPayload)
	if err != nil {
		t.Fatalf("Decode request failed: %v", err)
	}
	if _, ok := reqMsg.(*types.Request); !ok {
		t.Errorf("Decode returned %T, want *types.Request", reqMsg)
	}

	respMsg, err := Decode(respPayload)
	if err != nil {
		t.Fatalf("Decode response failed: %v", err)
	}
	if _, ok := respMsg.(*types.Response); !ok {
		t.Errorf("Decode returned %T, want *types.Response", respMsg)
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode([]byte{0xc1, 0xff, 0x00}) // invalid msgpack
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("errors.Is(err, ErrMalformedPayload) = false, err = %v", err)
	}
	if IsFatalFrameError(err) {
		t.Error("decode errors are payload-scoped, not fatal")
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	// A response hand-labeled with a bogus kind.
	resp := types.NewSuccessResponse("id-1", nil, "")
	resp.Kind = "notify"
	payload, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}

	if _, err := Decode(payload); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("unknown kind should be ErrMalformedPayload, got %v", err)
	}
}

func TestRecoverRequestID(t *testing.T) {
	// An envelope that fails request decoding (no method) still yields
	// its id.
	partial, err := EncodeRequest(&types.Request{Kind: types.KindRequest, ID: "req-9"})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if _, err := DecodeRequest(partial); err == nil {
		t.Fatal("expected decode failure for method-less request")
	}
	if id := RecoverRequestID(partial); id != "req-9" {
		t.Errorf("RecoverRequestID = %q, want req-9", id)
	}

	// Garbage yields nothing.
	if id := RecoverRequestID([]byte{0xc1, 0x00, 0xff}); id != "" {
		t.Errorf("RecoverRequestID on garbage = %q, want empty", id)
	}
}

func TestDecodeRequest_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  *types.Request
	}{
		{"missing id", &types.Request{Kind: types.KindRequest, Method: types.MethodPing}},
		{"missing method", &types.Request{Kind: types.KindRequest, ID: "req-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeRequest(tt.req)
			if err != nil {
				t.Fatalf("EncodeRequest failed: %v", err)
			}
			if _, err := DecodeRequest(payload); !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("want ErrMalformedPayload, got %v", err)
			}
		})
	}
}
