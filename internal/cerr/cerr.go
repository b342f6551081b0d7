// Package cerr enumerates the error taxonomy every layer of the gateway
// propagates: a typed kind plus a stable code and single-line reason.
// Internal detail (stack traces, raw driver errors) stays in logs and the
// ethics audit; only the kind/code/reason cross the gateway boundary.
package cerr

import (
	"errors"
	"fmt"
)

// Kind is one of the §7 error categories.
type Kind string

const (
	Validation       Kind = "validation"
	Unauthorized     Kind = "unauthorized"
	PolicyDenied     Kind = "policy_denied"
	SandboxViolation Kind = "sandbox_violation"
	BusyReject       Kind = "busy_reject"
	ChannelStartup   Kind = "channel_startup"
	ChannelSendFail  Kind = "channel_send_failed"
	ProviderDown     Kind = "provider_unavailable"
	CheckpointBad    Kind = "checkpoint_corrupt"
	Internal         Kind = "internal"
)

// httpStatus maps a Kind to the §6 status code table.
var httpStatus = map[Kind]int{
	Validation:       422,
	Unauthorized:     401,
	PolicyDenied:     403,
	SandboxViolation: 403,
	BusyReject:       503,
	ChannelStartup:   503,
	ChannelSendFail:  502,
	ProviderDown:     503,
	CheckpointBad:    500,
	Internal:         500,
}

// Error is a typed, user-safe error: a stable Kind/Code plus a short
// human reason. Wrap attaches a lower-level cause that logs can reach
// through Unwrap, while Error() itself never leaks it.
type Error struct {
	Kind    Kind
	Code    string
	Reason  string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error should surface as.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// New builds a typed error. code should be a short machine-stable token
// (e.g. "unknown_sovereign", "sandbox_path_escape").
func New(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

// Wrap attaches a cause without leaking it through Error(); callers that
// need the cause for logging use errors.Unwrap or errors.As.
func Wrap(kind Kind, code, reason string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason, cause: cause}
}

// WithDetails attaches non-stacktrace structured context (never included
// in production responses unless explicitly surfaced by the caller).
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// Is supports errors.Is comparison by Kind+Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// KindOf extracts the Kind of err if it (or a wrapped cause) is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
