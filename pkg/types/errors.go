package types

import "errors"

// Error represents an error with a machine-readable code and additional context
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new error with code and message
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with code and message
func WrapError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsErrCode checks if an error, or any error it wraps, has a specific error code
func IsErrCode(err error, code string) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// GetErrorCode returns the outermost error code from an error
func GetErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Error codes
const (
	// ErrCodeIO marks a failure of the underlying transport (broken pipe, OS denial).
	ErrCodeIO = "IO"
	// ErrCodeNotConnected marks an operation attempted before connect or after disconnect.
	ErrCodeNotConnected = "NOT_CONNECTED"
	// ErrCodeData marks a malformed or unauthenticated payload. The connection
	// should be abandoned; frame boundaries cannot be trusted afterwards.
	ErrCodeData = "DATA"
	// ErrCodePermissionDenied marks a failed or unresolvable peer identity check.
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	// ErrCodeUnsupported marks a capability the current platform does not provide.
	ErrCodeUnsupported = "UNSUPPORTED"

	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeInvalid         = "INVALID"
	ErrCodeInternal        = "INTERNAL"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeCanceled        = "CANCELED"
	ErrCodeHandlerFailed   = "HANDLER_FAILED"
)
