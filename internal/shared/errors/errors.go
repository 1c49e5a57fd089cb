package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for different failure classes
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeConnectivity   ErrorType = "CONNECTIVITY_ERROR"
	ErrorTypeTransport      ErrorType = "TRANSPORT_ERROR"
	ErrorTypeResponse       ErrorType = "RESPONSE_ERROR"
	ErrorTypeDecode         ErrorType = "DECODE_ERROR"
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeAuthorization  ErrorType = "AUTHORIZATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
)

// RequestErrorDomain is the domain carried by every error produced by the request layer.
const RequestErrorDomain = "FIREBASE_REQUEST_ERROR"

// NoCode is the status code of errors that do not originate from an HTTP response.
const NoCode = -1

// Common application errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidPath        = errors.New("invalid backend path")
	ErrInvalidKey         = errors.New("invalid child key")
	ErrStoreClosed        = errors.New("object store closed")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrUnsupportedBackend = errors.New("unsupported backend")
	ErrNotConnected       = errors.New("realtime client is not connected")
)

// AppError represents a custom application error with context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Domain     string                 `json:"domain,omitempty"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"code"`
	HTTPCode   int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Component  string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:       errorType,
		Message:    message,
		StatusCode: NoCode,
		HTTPCode:   httpCode,
		Details:    make(map[string]interface{}),
	}
}

// NewRequestError creates an error in the request layer domain
func NewRequestError(errorType ErrorType, message string, code int) *AppError {
	e := NewAppError(errorType, message, http.StatusBadRequest)
	e.Domain = RequestErrorDomain
	e.StatusCode = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Request layer constructors

// NewValidationError creates a validation error. Always user-correctable.
func NewValidationError(message string) *AppError {
	return NewRequestError(ErrorTypeValidation, message, NoCode)
}

// NewConnectivityError is returned when no network path to the endpoint exists
func NewConnectivityError() *AppError {
	e := NewRequestError(ErrorTypeConnectivity, "No Internet connection", NoCode)
	e.HTTPCode = http.StatusServiceUnavailable
	return e
}

// NewTransportError wraps a network-level failure
func NewTransportError(cause error) *AppError {
	e := NewRequestError(ErrorTypeTransport, "Request failed", NoCode).WithCause(cause)
	e.HTTPCode = http.StatusBadGateway
	return e
}

// NewResponseError is synthesized for a non-success status without a transport error
func NewResponseError(status int) *AppError {
	e := NewRequestError(ErrorTypeResponse, "Request failed", status)
	e.HTTPCode = status
	return e
}

// NewDecodeError reports a payload or body that could not be decoded
func NewDecodeError(message string, cause error) *AppError {
	return NewRequestError(ErrorTypeDecode, message, NoCode).WithCause(cause)
}

// Gateway constructors

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, message, http.StatusUnauthorized)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, message, http.StatusForbidden)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// Helper functions for common error scenarios

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// HTTPStatus returns the status a gateway should answer with for err
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPCode != 0 {
		return appErr.HTTPCode
	}
	switch {
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return isType(err, ErrorTypeValidation) }

// IsConnectivity checks if an error is a connectivity error
func IsConnectivity(err error) bool { return isType(err, ErrorTypeConnectivity) }

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool { return isType(err, ErrorTypeTransport) }

// IsResponse checks if an error was synthesized from an HTTP status
func IsResponse(err error) bool { return isType(err, ErrorTypeResponse) }

// IsDecode checks if an error is a decode error
func IsDecode(err error) bool { return isType(err, ErrorTypeDecode) }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound) || errors.Is(err, ErrNotFound)
}

// IsAuthentication checks if an error is an authentication error
func IsAuthentication(err error) bool {
	return isType(err, ErrorTypeAuthentication) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired)
}

// IsAuthorization checks if an error is an authorization error
func IsAuthorization(err error) bool {
	return isType(err, ErrorTypeAuthorization) || errors.Is(err, ErrForbidden)
}

// StatusCode returns the code carried by a request layer error, or NoCode
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return NoCode
}
