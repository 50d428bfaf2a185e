package core

import (
	"errors"
	"fmt"
	"net/url"
)

// Error is the canonical error returned by every call-engine component.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	return msg
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsUserVisible reports whether the error should be shown to the user.
// Stale completions of cancelled operations are dropped silently.
func (e *Error) IsUserVisible() bool {
	return e != nil && e.Type != ErrStaleOperation
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrPermissionDenied  ErrorType = "permission_denied"
	ErrDeviceUnavailable ErrorType = "device_unavailable"
	ErrAlreadyCapturing  ErrorType = "already_capturing"
	ErrTransport         ErrorType = "transport_error"
	ErrServer            ErrorType = "server_error"
	ErrJoinFailed        ErrorType = "join_failed"
	ErrStaleOperation    ErrorType = "stale_operation"
	ErrInvalidState      ErrorType = "invalid_state_error"
	ErrInvalidRequest    ErrorType = "invalid_request_error"
)

// NewPermissionDeniedError creates a media permission error.
func NewPermissionDeniedError(message string, cause error) *Error {
	return &Error{Type: ErrPermissionDenied, Message: message, Cause: cause}
}

// NewDeviceUnavailableError creates a missing or busy device error.
func NewDeviceUnavailableError(message string, cause error) *Error {
	return &Error{Type: ErrDeviceUnavailable, Message: message, Cause: cause}
}

// NewAlreadyCapturingError creates an error for a second concurrent capture request.
func NewAlreadyCapturingError() *Error {
	return &Error{Type: ErrAlreadyCapturing, Message: "a capture session is already active"}
}

// NewTransportError creates a transport-level error. User info in rawURL is redacted.
func NewTransportError(op, rawURL string, cause error) *Error {
	var message string
	switch {
	case op != "" && rawURL != "":
		message = fmt.Sprintf("%s %s failed", op, redactURLUserInfo(rawURL))
	case op != "":
		message = fmt.Sprintf("%s failed", op)
	default:
		message = "connection failed"
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &Error{Type: ErrTransport, Message: message, Cause: cause}
}

// NewServerError creates an error reported explicitly by the server.
func NewServerError(message, code string) *Error {
	if message == "" {
		message = "server reported an error"
	}
	return &Error{Type: ErrServer, Message: message, Code: code}
}

// NewJoinFailedError aggregates any room create/join/connect failure.
func NewJoinFailedError(cause error) *Error {
	message := "could not join room"
	if reason := humanReason(cause); reason != "" {
		message = fmt.Sprintf("could not join room: %s", reason)
	}
	return &Error{Type: ErrJoinFailed, Message: message, Cause: cause}
}

// NewStaleOperationError marks the completion of an invalidated async operation.
func NewStaleOperationError(op string) *Error {
	return &Error{Type: ErrStaleOperation, Message: op + " completed after it was cancelled"}
}

// NewInvalidStateError creates a guard error for operations issued in the wrong state.
func NewInvalidStateError(message string) *Error {
	return &Error{Type: ErrInvalidState, Message: message}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// IsType reports whether err is (or wraps) a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// IsStale reports whether err is a stale operation completion.
func IsStale(err error) bool {
	return IsType(err, ErrStaleOperation)
}

// IsUserVisible reports whether err should reach the user. Non-core errors are
// always visible.
func IsUserVisible(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.IsUserVisible()
	}
	return true
}

// humanReason extracts a readable cause without the error-type prefix.
func humanReason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
