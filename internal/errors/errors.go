package errors

import (
	"errors"
	"net/http"
)

// Code identifies an error class in API responses and dual-backend result
// envelopes.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeUnauthorized    Code = "unauthorized"
	CodeNotFound        Code = "not_found"
	CodeAlreadyExists   Code = "already_exists"
	CodeConflict        Code = "conflict"
	CodeUnavailable     Code = "unavailable"
	CodeInvalid         Code = "invalid"
	CodeInternal        Code = "internal"
)

// APIError carries a machine-readable code alongside the HTTP status used
// at the boundary.
type APIError struct {
	Code     Code   `json:"code"`
	Status   int    `json:"-"`
	Message  string `json:"error"`
	Internal error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

func newError(code Code, status int, message string, err error) *APIError {
	return &APIError{Code: code, Status: status, Message: message, Internal: err}
}

func Unauthenticated(message string, err error) *APIError {
	return newError(CodeUnauthenticated, http.StatusUnauthorized, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return newError(CodeUnauthorized, http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return newError(CodeNotFound, http.StatusNotFound, message, err)
}

func AlreadyExists(message string, err error) *APIError {
	return newError(CodeAlreadyExists, http.StatusConflict, message, err)
}

func Conflict(message string, err error) *APIError {
	return newError(CodeConflict, http.StatusConflict, message, err)
}

func Unavailable(message string, err error) *APIError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

func Invalid(message string, err error) *APIError {
	return newError(CodeInvalid, http.StatusBadRequest, message, err)
}

func Internal(message string, err error) *APIError {
	if message == "" {
		message = "Internal server error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// CodeOf extracts the error class, defaulting to internal for raw errors.
func CodeOf(err error) Code {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternal
}

// Is reports whether err belongs to the given class.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
