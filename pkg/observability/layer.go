// Package observability taps service calls and transport lifecycle events
// without changing their outcome. A Layer turns each tap into a Record and
// hands it to a Sink; sinks exist for tests (MemorySink), logs (LoggerSink),
// Prometheus (MetricsSink) and OpenTelemetry (TracingSink).
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// RecordKind tells sinks which tap produced a Record.
type RecordKind string

const (
	KindBefore    RecordKind = "before"
	KindAfter     RecordKind = "after"
	KindLifecycle RecordKind = "lifecycle"
	KindFrame     RecordKind = "frame"
)

// Direction of a raw socket frame.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
)

// Transport lifecycle event names.
const (
	EventConnect          = "connect"
	EventConnectError     = "connect-error"
	EventDisconnect       = "disconnect"
	EventReconnectAttempt = "reconnect-attempt"
	EventReconnect        = "reconnect"
	EventError            = "error"
	EventReconnectFailed  = "reconnect-failed"
)

// Record is one structured observation.
type Record struct {
	Kind      RecordKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Transport string     `json:"transport,omitempty"`

	// Call records.
	CallID        string             `json:"callId,omitempty"`
	Service       string             `json:"service,omitempty"`
	Operation     protocol.Operation `json:"operation,omitempty"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
	Placeholder   bool               `json:"placeholder,omitempty"`
	Duration      time.Duration      `json:"duration,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorCategory svcerrors.Category `json:"errorCategory,omitempty"`

	// Lifecycle records.
	Event     string `json:"event,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Clean     bool   `json:"clean,omitempty"`
	Message   string `json:"message,omitempty"`

	// Frame records.
	Direction Direction `json:"direction,omitempty"`
}

// LifecycleEvent describes a transport state transition.
type LifecycleEvent struct {
	Name      string
	SessionID string
	Attempt   int
	Reason    string
	Clean     bool
	Message   string
}

// Sink receives records. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, r Record)
}

// CallToken links an After record to its Before record.
type CallToken struct {
	ctx       context.Context
	id        string
	service   string
	operation protocol.Operation
	start     time.Time
}

// ID returns the call id shared by the before and after records.
func (t CallToken) ID() string { return t.id }

// Layer is the interception point for calls, lifecycle events and frames.
// A nil *Layer is valid and records nothing.
type Layer struct {
	sink      Sink
	logger    logging.Logger
	transport string
	now       func() time.Time
}

// NewLayer creates a layer writing to sink.
func NewLayer(sink Sink, logger logging.Logger) *Layer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Layer{
		sink:   sink,
		logger: logger.WithFields(logging.String("component", "observability")),
		now:    time.Now,
	}
}

// ForTransport returns a copy of the layer that stamps records with the
// transport name.
func (l *Layer) ForTransport(name string) *Layer {
	if l == nil {
		return nil
	}
	c := *l
	c.transport = name
	return &c
}

// Before records the start of a call.
func (l *Layer) Before(ctx context.Context, service string, op protocol.Operation, input interface{}) CallToken {
	if ctx == nil {
		ctx = context.Background()
	}
	token := CallToken{
		ctx:       ctx,
		id:        uuid.NewString(),
		service:   service,
		operation: op,
	}
	if l == nil {
		return token
	}
	token.start = l.now()

	payload, placeholder := l.encode(input)
	l.emit(ctx, Record{
		Kind:        KindBefore,
		Timestamp:   token.start,
		Transport:   l.transport,
		CallID:      token.id,
		Service:     service,
		Operation:   op,
		Payload:     payload,
		Placeholder: placeholder,
	})
	return token
}

// After records the end of a call. The output and err are only observed.
func (l *Layer) After(token CallToken, output interface{}, err error) {
	if l == nil {
		return
	}
	now := l.now()
	r := Record{
		Kind:      KindAfter,
		Timestamp: now,
		Transport: l.transport,
		CallID:    token.id,
		Service:   token.service,
		Operation: token.operation,
	}
	if !token.start.IsZero() {
		r.Duration = now.Sub(token.start)
	}
	if err != nil {
		r.Error = err.Error()
		r.ErrorCategory = svcerrors.CategoryOf(err)
	} else {
		r.Payload, r.Placeholder = l.encode(output)
	}
	ctx := token.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	l.emit(ctx, r)
}

// Lifecycle records a transport state transition.
func (l *Layer) Lifecycle(ev LifecycleEvent) {
	if l == nil {
		return
	}
	l.emit(context.Background(), Record{
		Kind:      KindLifecycle,
		Timestamp: l.now(),
		Transport: l.transport,
		Event:     ev.Name,
		SessionID: ev.SessionID,
		Attempt:   ev.Attempt,
		Reason:    ev.Reason,
		Clean:     ev.Clean,
		Message:   ev.Message,
	})
}

// Frame records a raw socket frame.
func (l *Layer) Frame(direction Direction, payload []byte) {
	if l == nil {
		return
	}
	r := Record{
		Kind:      KindFrame,
		Timestamp: l.now(),
		Transport: l.transport,
		Direction: direction,
	}
	if json.Valid(payload) {
		r.Payload = append(json.RawMessage(nil), payload...)
	} else {
		r.Payload, r.Placeholder = placeholderFor(fmt.Sprintf("%d bytes of non-JSON frame data", len(payload)))
	}
	l.emit(context.Background(), r)
}

func (l *Layer) encode(v interface{}) (json.RawMessage, bool) {
	switch p := v.(type) {
	case nil:
		return nil, false
	case json.RawMessage:
		if json.Valid(p) {
			return p, false
		}
	default:
		data, err := json.Marshal(v)
		if err == nil {
			return data, false
		}
		l.logger.Debug("Payload is not serializable", logging.ErrorField(err))
	}
	return placeholderFor(fmt.Sprintf("unserializable %T", v))
}

func placeholderFor(desc string) (json.RawMessage, bool) {
	data, _ := json.Marshal(map[string]string{"placeholder": desc})
	return data, true
}

// emit hands r to the sink. A panicking sink is logged and otherwise
// ignored.
func (l *Layer) emit(ctx context.Context, r Record) {
	if l.sink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Warn("Observability sink failed",
				logging.String("kind", string(r.Kind)),
				logging.String("call_id", r.CallID),
				logging.String("event", r.Event),
				logging.Any("panic", rec),
			)
		}
	}()
	l.sink.Emit(ctx, r)
}
