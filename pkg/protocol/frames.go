package protocol

import "encoding/json"

// Client→server/server→client request-response envelope error codes.
const (
	ErrInvalidRequest = "invalid_request"
	ErrUnauthorized    = "unauthorized"
	ErrNotFound        = "not_found"
	ErrPolicyDenied    = "policy_denied"
	ErrBusy            = "busy"
	ErrInternal        = "internal"
)

// RequestFrame is one client→server WebSocket RPC call: {id, method, params}.
type RequestFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a RequestFrame by ID: either Result or Error is set.
type ResponseFrame struct {
	Type   string          `json:"type"` // always "response"
	ID     string          `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError carries a stable code plus a human message, mirroring
// internal/cerr's Kind/Code/Reason split at the wire boundary.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewOKResponse builds a successful ResponseFrame.
func NewOKResponse(id string, result any) ResponseFrame {
	return ResponseFrame{Type: "response", ID: id, Result: result}
}

// NewErrorResponse builds a failed ResponseFrame.
func NewErrorResponse(id, code, message string) ResponseFrame {
	return ResponseFrame{Type: "response", ID: id, Error: &ResponseError{Code: code, Message: message}}
}
