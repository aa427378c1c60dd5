// Package types defines the bridge protocol envelope and shared value types.
//
// A frame payload is either a Request or a Response, discriminated by the
// Kind field. The wire package owns framing and serialization; this package
// is pure data and must stay free of I/O.
package types

import "github.com/google/uuid"

// MessageKind discriminates frame payloads.
type MessageKind string

// Frame payload kinds.
const (
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
)

// Method identifies a bridge operation.
type Method string

// Bridge methods.
const (
	// MethodExecute runs an opaque script payload on the host's execution thread.
	MethodExecute Method = "execute"
	// MethodPing is a liveness probe used by the health monitor.
	MethodPing Method = "ping"
	// MethodQuery is a read-only host-state query (scene, objects, history, metrics).
	MethodQuery Method = "query"
	// MethodShutdown requests a graceful host-side server stop.
	MethodShutdown Method = "shutdown"
)

// Status is the outcome of a request.
type Status string

// Response statuses.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request is a controller-to-host message.
//
// ID is unique per in-flight request on a connection; the controller never
// reuses an ID that is still awaiting a response.
type Request struct {
	Kind       MessageKind `msgpack:"kind"`
	ID         string      `msgpack:"id"`
	Method     Method      `msgpack:"method"`
	Payload    string      `msgpack:"payload,omitempty"`
	DeadlineMs int64       `msgpack:"deadline_ms,omitempty"`
}

// Response is a host-to-controller message keyed by the originating
// Request.ID. Exactly one Response is delivered per Request, or the waiter
// is released by timeout/disconnect instead.
type Response struct {
	Kind   MessageKind    `msgpack:"kind"`
	ID     string         `msgpack:"id"`
	Status Status         `msgpack:"status"`
	Result map[string]any `msgpack:"result,omitempty"`
	// Logs is output captured during execution (both success and failure).
	Logs string `msgpack:"logs,omitempty"`
	// Diagnostic carries fault detail when Status is StatusError.
	Diagnostic string `msgpack:"diagnostic,omitempty"`
}

// NewRequest creates a request with a fresh random ID.
func NewRequest(method Method, payload string, deadlineMs int64) *Request {
	return &Request{
		Kind:       KindRequest,
		ID:         uuid.NewString(),
		Method:     method,
		Payload:    payload,
		DeadlineMs: deadlineMs,
	}
}

// NewPingRequest creates a liveness probe request.
func NewPingRequest() *Request {
	return NewRequest(MethodPing, "", 0)
}

// NewExecuteRequest creates a script execution request.
func NewExecuteRequest(script string, deadlineMs int64) *Request {
	return NewRequest(MethodExecute, script, deadlineMs)
}

// NewQueryRequest creates a read-only query request.
func NewQueryRequest(selector string) *Request {
	return NewRequest(MethodQuery, selector, 0)
}

// NewSuccessResponse creates a success response for the given request ID.
func NewSuccessResponse(requestID string, result map[string]any, logs string) *Response {
	if result == nil {
		result = map[string]any{}
	}
	return &Response{
		Kind:   KindResponse,
		ID:     requestID,
		Status: StatusSuccess,
		Result: result,
		Logs:   logs,
	}
}

// NewErrorResponse creates an error response for the given request ID.
func NewErrorResponse(requestID, diagnostic, logs string) *Response {
	return &Response{
		Kind:       KindResponse,
		ID:         requestID,
		Status:     StatusError,
		Result:     map[string]any{},
		Logs:       logs,
		Diagnostic: diagnostic,
	}
}

// IsSuccess reports whether the response indicates success.
func (r *Response) IsSuccess() bool { return r.Status == StatusSuccess }

// IsError reports whether the response indicates an error.
func (r *Response) IsError() bool { return r.Status == StatusError }
