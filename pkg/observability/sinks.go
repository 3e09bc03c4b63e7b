package observability

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
)

// MemorySink keeps every record in memory. Tests use it to assert on what
// the layer saw.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	notify  chan struct{}
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{notify: make(chan struct{})}
}

func (s *MemorySink) Emit(_ context.Context, r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Records returns a copy of everything emitted so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Kind returns the records of one kind, in emission order.
func (s *MemorySink) Kind(kind RecordKind) []Record {
	var out []Record
	for _, r := range s.Records() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Events returns the names of lifecycle events in emission order.
func (s *MemorySink) Events() []string {
	var out []string
	for _, r := range s.Kind(KindLifecycle) {
		out = append(out, r.Event)
	}
	return out
}

// Reset drops all records.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// Wait blocks until match returns true for some record or the timeout
// elapses. It reports whether a match was seen.
func (s *MemorySink) Wait(timeout time.Duration, match func(Record) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	seen := 0
	for {
		s.mu.Lock()
		if seen > len(s.records) {
			seen = 0
		}
		pending := s.records[seen:]
		seen = len(s.records)
		notify := s.notify
		s.mu.Unlock()

		for _, r := range pending {
			if match(r) {
				return true
			}
		}

		select {
		case <-notify:
		case <-deadline.C:
			return false
		}
	}
}

// WaitEvent waits for a lifecycle event with the given name.
func (s *MemorySink) WaitEvent(timeout time.Duration, name string) bool {
	return s.Wait(timeout, func(r Record) bool {
		return r.Kind == KindLifecycle && r.Event == name
	})
}

// LoggerSink writes records through a logging.Logger. Calls and frames go to
// debug; lifecycle events to info, or warn for errors.
type LoggerSink struct {
	logger logging.Logger
}

// NewLoggerSink creates a sink that logs every record.
func NewLoggerSink(logger logging.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(ctx context.Context, r Record) {
	fields := []logging.Field{logging.String("transport", r.Transport)}

	switch r.Kind {
	case KindBefore, KindAfter:
		fields = append(fields,
			logging.String("call_id", r.CallID),
			logging.String("service", r.Service),
			logging.String("method", string(r.Operation)),
		)
		if len(r.Payload) > 0 {
			fields = append(fields, logging.Any("payload", r.Payload))
		}
		if r.Kind == KindBefore {
			s.logger.Debug("Service call", fields...)
			return
		}
		fields = append(fields, logging.Duration("duration", r.Duration))
		if r.Error != "" {
			fields = append(fields,
				logging.String("error", r.Error),
				logging.String("error_category", string(r.ErrorCategory)),
			)
			s.logger.Debug("Service call failed", fields...)
			return
		}
		s.logger.Debug("Service call completed", fields...)

	case KindLifecycle:
		fields = append(fields, logging.String("event", r.Event))
		if r.SessionID != "" {
			fields = append(fields, logging.String("sid", r.SessionID))
		}
		if r.Attempt > 0 {
			fields = append(fields, logging.Int("attempt", r.Attempt))
		}
		if r.Reason != "" {
			fields = append(fields, logging.String("reason", r.Reason), logging.Bool("clean", r.Clean))
		}
		if r.Message != "" {
			fields = append(fields, logging.String("message", r.Message))
		}
		switch r.Event {
		case EventConnectError, EventError, EventReconnectFailed:
			s.logger.Warn("Transport event", fields...)
		default:
			s.logger.Info("Transport event", fields...)
		}

	case KindFrame:
		fields = append(fields,
			logging.String("direction", string(r.Direction)),
			logging.Any("frame", r.Payload),
		)
		s.logger.Debug("Socket frame", fields...)
	}
}

// MultiSink fans records out to several sinks. A panic in one sink does not
// stop the others.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, r Record) {
	var failed interface{}
	for _, s := range m {
		if s == nil {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil && failed == nil {
					failed = rec
				}
			}()
			s.Emit(ctx, r)
		}()
	}
	if failed != nil {
		panic(failed)
	}
}
