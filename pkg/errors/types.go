// Package errors provides structured error handling for the service client.
// Every failure that crosses a package boundary is a ServiceError carrying one
// of five categories (auth rejected, transport unavailable, validation failed,
// not found, unknown) so callers can decide how to surface it without string
// matching.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling
type Category string

const (
	// CategoryAuthRejected: bad credentials. User-correctable.
	CategoryAuthRejected Category = "auth_rejected"
	// CategoryTransportUnavailable: no connection could be used. Retryable.
	CategoryTransportUnavailable Category = "transport_unavailable"
	// CategoryValidationFailed: the server rejected the payload shape.
	CategoryValidationFailed Category = "validation_failed"
	// CategoryNotFound: the operation referenced a missing identifier.
	CategoryNotFound Category = "not_found"
	// CategoryUnknown: anything else.
	CategoryUnknown Category = "unknown"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context provides additional context about where and when an error occurred
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Service   string    `json:"service,omitempty"`
	Method    string    `json:"method,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
}

// ServiceError defines the interface for all client errors
type ServiceError interface {
	error

	// Code returns the wire status code (HTTP-style)
	Code() int

	// Name returns the wire error name, e.g. "NotAuthenticated"
	Name() string

	// Message returns a human-readable error message
	Message() string

	// Details returns detailed technical description for debugging
	Details() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Severity returns the error severity level
	Severity() Severity

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) ServiceError

	// WithDetail returns a new error with additional detail
	WithDetail(detail string) ServiceError

	// WithData returns a new error with structured data
	WithData(data interface{}) ServiceError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map
	ToJSON() map[string]interface{}
}

// baseError implements the ServiceError interface
type baseError struct {
	code     int
	name     string
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

// Error implements the error interface
func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() int { return e.code }

func (e *baseError) Name() string {
	if e.name != "" {
		return e.name
	}
	return GetErrorCodeName(e.code)
}

func (e *baseError) Message() string { return e.message }

func (e *baseError) Details() string { return e.details }

func (e *baseError) Data() interface{} { return e.data }

func (e *baseError) Category() Category { return e.category }

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) Context() *Context { return e.context }

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) ServiceError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a new error with additional detail
func (e *baseError) WithDetail(detail string) ServiceError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

// WithData returns a new error with structured data
func (e *baseError) WithData(data interface{}) ServiceError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// Unwrap returns the underlying error
func (e *baseError) Unwrap() error {
	return e.cause
}

// ToJSON returns the error as a JSON-serializable map
func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     e.code,
		"name":     e.Name(),
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}

	if e.details != "" {
		result["details"] = e.details
	}

	if e.data != nil {
		result["data"] = e.data
	}

	if e.context != nil {
		result["context"] = e.context
	}

	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}

	return result
}

// MarshalJSON implements json.Marshaler for baseError
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a new ServiceError. Category and severity come from the
// code registry.
func NewError(code int, message string) ServiceError {
	return &baseError{
		code:     code,
		message:  message,
		category: GetErrorCodeCategory(code),
		severity: GetErrorCodeSeverity(code),
		context:  &Context{Timestamp: time.Now()},
	}
}

// NewErrorf creates a new ServiceError with formatted message
func NewErrorf(code int, format string, args ...interface{}) ServiceError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error as a ServiceError
func WrapError(err error, code int, message string) ServiceError {
	return &baseError{
		code:     code,
		message:  message,
		category: GetErrorCodeCategory(code),
		severity: GetErrorCodeSeverity(code),
		cause:    err,
		context:  &Context{Timestamp: time.Now()},
	}
}

// WrapErrorf wraps an existing error as a ServiceError with formatted message
func WrapErrorf(err error, code int, format string, args ...interface{}) ServiceError {
	return WrapError(err, code, fmt.Sprintf(format, args...))
}

// AsServiceError extracts a ServiceError from anywhere in the error chain.
func AsServiceError(err error) (ServiceError, bool) {
	if err == nil {
		return nil, false
	}
	var svcErr ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	_, ok := AsServiceError(err)
	return ok
}

// CategoryOf classifies any error. Errors that are not ServiceErrors are
// CategoryUnknown.
func CategoryOf(err error) Category {
	if svcErr, ok := AsServiceError(err); ok {
		return svcErr.Category()
	}
	return CategoryUnknown
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if svcErr, ok := AsServiceError(err); ok {
		return svcErr.Code() == code
	}
	return false
}

func IsAuthRejected(err error) bool { return IsCategory(err, CategoryAuthRejected) }

func IsTransportUnavailable(err error) bool {
	return IsCategory(err, CategoryTransportUnavailable)
}

func IsValidationFailed(err error) bool { return IsCategory(err, CategoryValidationFailed) }

func IsNotFound(err error) bool { return IsCategory(err, CategoryNotFound) }

// Notice returns a short human-readable message suitable for showing to a
// user. Each category yields a distinguishable notice.
func Notice(err error) string {
	if err == nil {
		return ""
	}
	switch CategoryOf(err) {
	case CategoryAuthRejected:
		return "Sign-in failed: check your credentials and try again."
	case CategoryTransportUnavailable:
		return "The server is unreachable right now. Please try again shortly."
	case CategoryValidationFailed:
		if svcErr, ok := AsServiceError(err); ok {
			return "The server rejected the request: " + svcErr.Message()
		}
		return "The server rejected the request."
	case CategoryNotFound:
		return "That item no longer exists. Refresh the list and try again."
	default:
		return "Something went wrong. Please try again."
	}
}
