// Package apperr defines the error codes surfaced to API and CLI callers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

// Error codes returned to callers.
const (
	CodeConfiguration   Code = "CONFIGURATION_ERROR"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeTimeout         Code = "REQUEST_TIMEOUT"
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeRateLimited     Code = "RATE_LIMITED"

	// API-level codes.
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeUnavailable  Code = "SERVICE_UNAVAILABLE"
)

// Error carries a Code alongside a human readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with the given code.
func New(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// InvalidInput reports a caller error detected before any side effects.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Configuration reports a fatal misconfiguration.
func Configuration(msg string, err error) *Error {
	return &Error{Code: CodeConfiguration, Message: msg, Err: err}
}

// External reports a failure of one of our dependencies (embedding API, vector store).
func External(msg string, err error) *Error {
	return &Error{Code: CodeExternalService, Message: msg, Err: err}
}

// Internal reports an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// CodeOf extracts the Code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// HTTPStatus maps a Code to a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
