package errors

import (
	"fmt"
	"net/url"
	"time"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport  string        `json:"transport"`
	Operation  string        `json:"operation,omitempty"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Connected  bool          `json:"connected"`
	Retryable  bool          `json:"retryable"`
	Reason     string        `json:"reason,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
}

func reason(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

func hostOf(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

// ConnectionFailed creates an error for connection failures
func ConnectionFailed(transport, endpoint string, cause error) ServiceError {
	message := fmt.Sprintf("Failed to connect via %s", transport)
	if endpoint != "" {
		message = fmt.Sprintf("Failed to connect to %s via %s", hostOf(endpoint), transport)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(cause, CodeConnectionFailed, message).WithData(&TransportErrorData{
		Transport: transport,
		Endpoint:  hostOf(endpoint),
		Retryable: true,
		Reason:    reason(cause),
	})
}

// ConnectionLost creates an error for calls that were in flight when the
// connection dropped
func ConnectionLost(transport, endpoint string, cause error) ServiceError {
	message := fmt.Sprintf("Lost connection via %s", transport)
	if endpoint != "" {
		message = fmt.Sprintf("Lost connection to %s via %s", hostOf(endpoint), transport)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(cause, CodeConnectionLost, message).WithData(&TransportErrorData{
		Transport: transport,
		Endpoint:  hostOf(endpoint),
		Retryable: true,
		Reason:    reason(cause),
	})
}

// ConnectionTimeout creates an error for connect or invoke timeouts
func ConnectionTimeout(transport, operation string, timeout time.Duration) ServiceError {
	message := fmt.Sprintf("%s timed out via %s", operation, transport)
	if timeout > 0 {
		message = fmt.Sprintf("%s after %v", message, timeout)
	}

	return NewError(CodeConnectionTimeout, message).WithData(&TransportErrorData{
		Transport: transport,
		Operation: operation,
		Timeout:   timeout,
		Retryable: true,
		Reason:    "timeout",
	})
}

// ReconnectFailed creates the fail-fast error returned once the reconnection
// budget of a streaming transport is exhausted
func ReconnectFailed(transport, endpoint string, attempts int) ServiceError {
	return NewErrorf(CodeReconnectFailed, "%s transport gave up reconnecting to %s after %d attempts",
		transport, hostOf(endpoint), attempts).WithData(&TransportErrorData{
		Transport: transport,
		Endpoint:  hostOf(endpoint),
		Retryable: true,
		Attempts:  attempts,
		Reason:    "reconnect_exhausted",
	})
}

// TransportClosed is returned by calls made after Close
func TransportClosed(transport string) ServiceError {
	return NewErrorf(CodeTransportClosed, "%s transport is closed", transport).WithData(&TransportErrorData{
		Transport: transport,
		Reason:    "closed",
	})
}

// HTTPTransportError creates an error for HTTP requests that never produced
// a response
func HTTPTransportError(operation, endpoint string, cause error) ServiceError {
	message := fmt.Sprintf("HTTP transport error during %s", operation)
	if endpoint != "" {
		message = fmt.Sprintf("%s to %s", message, hostOf(endpoint))
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(cause, CodeConnectionFailed, message).WithData(&TransportErrorData{
		Transport: "rest",
		Operation: operation,
		Endpoint:  hostOf(endpoint),
		Retryable: true,
		Reason:    reason(cause),
	})
}

// AuthRejected creates an authentication failure
func AuthRejected(message string) ServiceError {
	if message == "" {
		message = "Invalid login"
	}
	return NewError(CodeNotAuthenticated, message)
}

// ValidationFailed creates a payload validation failure
func ValidationFailed(message string, data interface{}) ServiceError {
	err := NewError(CodeBadRequest, message)
	if data != nil {
		err = err.WithData(data)
	}
	return err
}

// NotFound creates a missing-record error
func NotFound(service, id string) ServiceError {
	return NewErrorf(CodeNotFound, "No record found for id '%s' in %s", id, service)
}

// Unknown wraps an unclassified failure
func Unknown(cause error) ServiceError {
	return WrapError(cause, CodeGeneralError, reason(cause))
}
