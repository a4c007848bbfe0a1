// Package apperr provides coded errors shared by the map, dice and storage layers.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeSessionPaused    Code = "SESSION_PAUSED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodePersistence      Code = "PERSISTENCE_FAILED"
	CodeConflict         Code = "CONFLICT"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is.
var (
	ErrPermissionDenied = New(CodePermissionDenied, "permission denied")
	ErrSessionPaused    = New(CodeSessionPaused, "session is paused")
	ErrNotFound         = New(CodeNotFound, "not found")
	ErrInvalidInput     = New(CodeInvalidInput, "invalid input")
	ErrPersistence      = New(CodePersistence, "persistence failed")
	ErrConflict         = New(CodeConflict, "conflict")
)

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HTTPStatus maps an error to the status code the HTTP layer should send.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeSessionPaused, CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodePersistence:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
