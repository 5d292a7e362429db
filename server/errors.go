package server

import (
	"fmt"
	"maps"
	"net/http"
)

// IAPIError is an error rendered into the response envelope.
type IAPIError interface {
	ErrorCode() string
	Message() string
	HTTPStatus() int
	Details() map[string]any
}

// BaseAPIError provides a basic implementation of IAPIError.
type BaseAPIError struct {
	code       string
	message    string
	httpStatus int
	details    map[string]any
}

// NewBaseAPIError creates a new base API error.
func NewBaseAPIError(code, message string, httpStatus int) *BaseAPIError {
	return &BaseAPIError{
		code:       code,
		message:    message,
		httpStatus: httpStatus,
		details:    make(map[string]any),
	}
}

// ErrorCode returns the error code.
func (e *BaseAPIError) ErrorCode() string { return e.code }

// Message returns the error message.
func (e *BaseAPIError) Message() string { return e.message }

// HTTPStatus returns the HTTP status code.
func (e *BaseAPIError) HTTPStatus() int { return e.httpStatus }

// Details returns a copy of the error details.
func (e *BaseAPIError) Details() map[string]any {
	if e.details == nil {
		return nil
	}
	cp := make(map[string]any, len(e.details))
	maps.Copy(cp, e.details)
	return cp
}

// WithDetails adds details to the error.
func (e *BaseAPIError) WithDetails(key string, value any) *BaseAPIError {
	e.details[key] = value
	return e
}

func (e *BaseAPIError) Error() string {
	if e == nil {
		return ""
	}
	if e.code == "" {
		return e.message
	}
	return e.code + ": " + e.message
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string) *BaseAPIError {
	return NewBaseAPIError("NOT_FOUND", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewConflictError reports a write that clashes with existing state.
func NewConflictError(message string) *BaseAPIError {
	return NewBaseAPIError("CONFLICT", message, http.StatusConflict)
}

// NewBadRequestError reports malformed input.
func NewBadRequestError(message string) *BaseAPIError {
	return NewBaseAPIError("BAD_REQUEST", message, http.StatusBadRequest)
}

// NewInternalServerError reports an unexpected failure.
func NewInternalServerError(message string) *BaseAPIError {
	if message == "" {
		message = "An internal error occurred"
	}
	return NewBaseAPIError("INTERNAL_ERROR", message, http.StatusInternalServerError)
}

// NewServiceUnavailableError reports a dependency that is down.
func NewServiceUnavailableError(message string) *BaseAPIError {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return NewBaseAPIError("SERVICE_UNAVAILABLE", message, http.StatusServiceUnavailable)
}

func statusToErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

var _ IAPIError = (*BaseAPIError)(nil)
