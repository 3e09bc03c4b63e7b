package errors

// Wire status codes. The server speaks HTTP-style codes on both transports;
// client-side connection failures reuse the 5xx range.
const (
	CodeBadRequest       int = 400
	CodeNotAuthenticated int = 401
	CodePaymentError     int = 402
	CodeForbidden        int = 403
	CodeNotFound         int = 404
	CodeMethodNotAllowed int = 405
	CodeNotAcceptable    int = 406
	CodeTimeout          int = 408
	CodeConflict         int = 409
	CodeLengthRequired   int = 411
	CodeUnprocessable    int = 422
	CodeTooManyRequests  int = 429

	CodeGeneralError   int = 500
	CodeNotImplemented int = 501
	CodeBadGateway     int = 502
	CodeUnavailable    int = 503
	CodeGatewayTimeout int = 504
)

// Client-side transport codes. These never appear on the wire.
const (
	CodeConnectionFailed  int = 590 // Failed to establish connection
	CodeConnectionLost    int = 591 // Connection lost during operation
	CodeConnectionTimeout int = 592 // Connect or invoke deadline exceeded
	CodeReconnectFailed   int = 593 // Reconnection attempts exhausted
	CodeCircuitOpen       int = 594 // Reliability circuit breaker open
	CodeTransportClosed   int = 595 // Transport closed by the caller
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

// errorCodeRegistry maps error codes to their information
var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeBadRequest:       {CodeBadRequest, "BadRequest", "Malformed request", CategoryValidationFailed, SeverityWarning},
	CodeNotAuthenticated: {CodeNotAuthenticated, "NotAuthenticated", "Authentication required or rejected", CategoryAuthRejected, SeverityWarning},
	CodePaymentError:     {CodePaymentError, "PaymentError", "Payment required", CategoryUnknown, SeverityError},
	CodeForbidden:        {CodeForbidden, "Forbidden", "Not permitted", CategoryUnknown, SeverityError},
	CodeNotFound:         {CodeNotFound, "NotFound", "Resource not found", CategoryNotFound, SeverityWarning},
	CodeMethodNotAllowed: {CodeMethodNotAllowed, "MethodNotAllowed", "Method not allowed on service", CategoryUnknown, SeverityError},
	CodeNotAcceptable:    {CodeNotAcceptable, "NotAcceptable", "Not acceptable", CategoryUnknown, SeverityError},
	CodeTimeout:          {CodeTimeout, "Timeout", "Request timed out", CategoryTransportUnavailable, SeverityError},
	CodeConflict:         {CodeConflict, "Conflict", "Resource conflict", CategoryUnknown, SeverityError},
	CodeLengthRequired:   {CodeLengthRequired, "LengthRequired", "Length required", CategoryUnknown, SeverityError},
	CodeUnprocessable:    {CodeUnprocessable, "Unprocessable", "Payload failed validation", CategoryValidationFailed, SeverityWarning},
	CodeTooManyRequests:  {CodeTooManyRequests, "TooManyRequests", "Rate limited", CategoryUnknown, SeverityWarning},

	CodeGeneralError:   {CodeGeneralError, "GeneralError", "Server error", CategoryUnknown, SeverityError},
	CodeNotImplemented: {CodeNotImplemented, "NotImplemented", "Not implemented", CategoryUnknown, SeverityError},
	CodeBadGateway:     {CodeBadGateway, "BadGateway", "Bad gateway", CategoryTransportUnavailable, SeverityError},
	CodeUnavailable:    {CodeUnavailable, "Unavailable", "Service unavailable", CategoryTransportUnavailable, SeverityError},
	CodeGatewayTimeout: {CodeGatewayTimeout, "GatewayTimeout", "Gateway timeout", CategoryTransportUnavailable, SeverityError},

	CodeConnectionFailed:  {CodeConnectionFailed, "ConnectionFailed", "Connection failed", CategoryTransportUnavailable, SeverityCritical},
	CodeConnectionLost:    {CodeConnectionLost, "ConnectionLost", "Connection lost", CategoryTransportUnavailable, SeverityError},
	CodeConnectionTimeout: {CodeConnectionTimeout, "ConnectionTimeout", "Connection timeout", CategoryTransportUnavailable, SeverityError},
	CodeReconnectFailed:   {CodeReconnectFailed, "ReconnectFailed", "Reconnection attempts exhausted", CategoryTransportUnavailable, SeverityCritical},
	CodeCircuitOpen:       {CodeCircuitOpen, "CircuitOpen", "Circuit breaker open", CategoryTransportUnavailable, SeverityError},
	CodeTransportClosed:   {CodeTransportClosed, "TransportClosed", "Transport closed", CategoryTransportUnavailable, SeverityError},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "GeneralError"
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryUnknown
}

// GetErrorCodeSeverity returns the severity of an error code
func GetErrorCodeSeverity(code int) Severity {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Severity
	}
	return SeverityError
}

// CodeForName maps a wire error name back to its code. Unknown names map to
// CodeGeneralError.
func CodeForName(name string) int {
	for code, info := range errorCodeRegistry {
		if info.Name == name && code < 590 {
			return code
		}
	}
	return CodeGeneralError
}
