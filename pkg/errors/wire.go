package errors

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WireError is the error body both transports carry from the server.
type WireError struct {
	Name      string          `json:"name"`
	Message   string          `json:"message"`
	Code      int             `json:"code"`
	ClassName string          `json:"className,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Errors    json.RawMessage `json:"errors,omitempty"`
}

// Error implements error so a WireError can be returned directly by servers.
func (w *WireError) Error() string {
	return w.Name + ": " + w.Message
}

// FromWire converts a server error body into a ServiceError.
func FromWire(w *WireError) ServiceError {
	if w == nil {
		return nil
	}

	code := w.Code
	if code == 0 {
		code = CodeForName(w.Name)
	}

	message := w.Message
	if message == "" {
		message = GetErrorCodeName(code)
	}

	err := &baseError{
		code:     code,
		name:     w.Name,
		message:  message,
		category: GetErrorCodeCategory(code),
		severity: GetErrorCodeSeverity(code),
		context:  nil,
	}

	switch {
	case len(w.Errors) > 0 && string(w.Errors) != "{}" && string(w.Errors) != "null":
		err.data = w.Errors
	case len(w.Data) > 0 && string(w.Data) != "null":
		err.data = w.Data
	}
	return err.WithContext(&Context{Component: "wire"})
}

// FromHTTPResponse converts a non-2xx response into a ServiceError. The body
// is parsed as a WireError when possible; otherwise the status alone decides
// the category.
func FromHTTPResponse(status int, body []byte) ServiceError {
	var w WireError
	if len(body) > 0 && json.Unmarshal(body, &w) == nil && (w.Name != "" || w.Message != "") {
		if w.Code == 0 {
			w.Code = status
		}
		return FromWire(&w)
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	return NewError(status, message).WithData(&TransportErrorData{
		Transport:  "rest",
		Connected:  true,
		StatusCode: status,
		Retryable:  GetErrorCodeCategory(status) == CategoryTransportUnavailable,
	})
}

// ToWire converts any error into the wire shape. Used by the reference
// server.
func ToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	if w, ok := err.(*WireError); ok {
		return w
	}
	svcErr, ok := AsServiceError(err)
	if !ok {
		return &WireError{
			Name:      "GeneralError",
			Message:   err.Error(),
			Code:      CodeGeneralError,
			ClassName: "general-error",
		}
	}

	w := &WireError{
		Name:      svcErr.Name(),
		Message:   svcErr.Message(),
		Code:      svcErr.Code(),
		ClassName: className(svcErr.Name()),
	}
	if svcErr.Data() != nil {
		if data, mErr := json.Marshal(svcErr.Data()); mErr == nil {
			w.Data = data
		}
	}
	return w
}

// className converts "NotAuthenticated" to "not-authenticated".
func className(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
