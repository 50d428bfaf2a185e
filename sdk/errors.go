package vai

import (
	"github.com/vango-go/vai-call/pkg/core"
)

// SDK-level error type that wraps core errors
type Error = core.Error

// ErrorType categorizes errors.
type ErrorType = core.ErrorType

// Error types
const (
	ErrPermissionDenied  = core.ErrPermissionDenied
	ErrDeviceUnavailable = core.ErrDeviceUnavailable
	ErrAlreadyCapturing  = core.ErrAlreadyCapturing
	ErrTransport         = core.ErrTransport
	ErrServer            = core.ErrServer
	ErrJoinFailed        = core.ErrJoinFailed
	ErrStaleOperation    = core.ErrStaleOperation
	ErrInvalidState      = core.ErrInvalidState
	ErrInvalidRequest    = core.ErrInvalidRequest
)

// Error helpers
var (
	IsType        = core.IsType
	IsStale       = core.IsStale
	IsUserVisible = core.IsUserVisible
)
