// Package core provides the error taxonomy shared by the analytics engine and the API layer.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the kind of error that occurred
type ErrorType string

const (
	// ErrorTypeValidation indicates the request itself is malformed (400).
	// Raised before any I/O or cache access.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeConfig indicates an invalid filter configuration (400)
	ErrorTypeConfig ErrorType = "config_error"
	// ErrorTypeFetch indicates the record store failed (503)
	ErrorTypeFetch ErrorType = "fetch_error"
	// ErrorTypeInvalidRequest indicates a client error outside the engine (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// fetchFailureMessage is what clients see for store failures; details stay in Err.
const fetchFailureMessage = "failed to load dashboard data, please retry"

// Error is the base error type for all dashboard errors
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Type == ErrorTypeFetch
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeConfig, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeFetch:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *Error) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Retryable() {
		body["retryable"] = true
	}
	return map[string]interface{}{"error": body}
}

// NewValidationError creates a new validation error (400)
func NewValidationError(message string) *Error {
	return &Error{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewConfigError creates a new filter configuration error (400)
func NewConfigError(message string) *Error {
	return &Error{
		Type:       ErrorTypeConfig,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewFetchError wraps a record store failure (503).
// The client-facing message is generic; err carries the details.
func NewFetchError(err error) *Error {
	return &Error{
		Type:       ErrorTypeFetch,
		Message:    fetchFailureMessage,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *Error {
	return &Error{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// IsType reports whether err's chain contains a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsRetryable reports whether err's chain contains a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
