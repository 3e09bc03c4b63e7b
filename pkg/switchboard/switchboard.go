// Package switchboard holds the one active transport selection. Every other
// component asks the switchboard for the active transport at call time, so a
// switch redirects subsequent calls without rebuilding anything.
package switchboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/storage"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// KeySelection is the storage key of the persisted transport choice.
const KeySelection = "feathers-transport"

// Listener is told about a completed switch.
type Listener func(previous, current transport.Kind)

// Option configures a Switchboard.
type Option func(*Switchboard)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Switchboard) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefault sets the selection used when nothing valid is persisted. An
// unregistered kind is ignored.
func WithDefault(kind transport.Kind) Option {
	return func(s *Switchboard) {
		s.fallback = kind
	}
}

// Switchboard routes calls to exactly one of its registered transports.
// Switching never closes or logs out the previously active transport; it
// simply stops routing new calls to it.
type Switchboard struct {
	storage    storage.Storage
	logger     logging.Logger
	transports map[transport.Kind]transport.Transport
	order      []transport.Kind
	fallback   transport.Kind

	// switchMu serializes SwitchTo so persisted and active selections agree
	switchMu sync.Mutex

	mu        sync.RWMutex
	active    transport.Kind
	listeners map[int]Listener
	nextID    int
}

// New registers one transport per kind. The initial selection is the
// WithDefault kind, else rest when registered, else the first transport given; call Restore to load the
// persisted choice.
func New(store storage.Storage, transports []transport.Transport, opts ...Option) (*Switchboard, error) {
	if store == nil {
		return nil, svcerrors.ValidationFailed("switchboard requires a storage backend", nil)
	}
	if len(transports) == 0 {
		return nil, svcerrors.ValidationFailed("switchboard requires at least one transport", nil)
	}

	s := &Switchboard{
		storage:    store,
		logger:     logging.NewNop(),
		transports: make(map[transport.Kind]transport.Transport, len(transports)),
		listeners:  make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.String("component", "switchboard"))

	for _, t := range transports {
		if t == nil {
			return nil, svcerrors.ValidationFailed("nil transport", nil)
		}
		kind := t.Kind()
		if _, dup := s.transports[kind]; dup {
			return nil, svcerrors.ValidationFailed(fmt.Sprintf("transport %s registered twice", kind), nil)
		}
		s.transports[kind] = t
		s.order = append(s.order, kind)
	}

	s.active = s.defaultKind()
	return s, nil
}

func (s *Switchboard) defaultKind() transport.Kind {
	if _, ok := s.transports[s.fallback]; ok && s.fallback != "" {
		return s.fallback
	}
	if _, ok := s.transports[transport.KindREST]; ok {
		return transport.KindREST
	}
	return s.order[0]
}

// Restore activates the persisted selection. A missing, unknown or
// unregistered selection falls back to the default. Listeners are not
// notified.
func (s *Switchboard) Restore() (transport.Kind, error) {
	value, ok, err := s.storage.Get(KeySelection)
	if err != nil {
		return s.Selection(), fmt.Errorf("failed to read transport selection: %w", err)
	}

	kind := s.defaultKind()
	if ok {
		parsed, perr := transport.ParseKind(value)
		switch {
		case perr != nil:
			s.logger.Warn("Ignoring invalid transport selection", logging.String("selection", value))
		case s.transports[parsed] == nil:
			s.logger.Warn("Persisted transport is not registered", logging.String("selection", value))
		default:
			kind = parsed
		}
	}

	s.mu.Lock()
	s.active = kind
	s.mu.Unlock()

	s.logger.Debug("Restored transport selection", logging.String("transport", string(kind)))
	return kind, nil
}

// Active returns the transport new calls should use.
func (s *Switchboard) Active() transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transports[s.active]
}

// Selection returns the kind of the active transport.
func (s *Switchboard) Selection() transport.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Get returns the registered transport of the given kind.
func (s *Switchboard) Get(kind transport.Kind) (transport.Transport, bool) {
	t, ok := s.transports[kind]
	return t, ok
}

// All returns every registered transport in registration order.
func (s *Switchboard) All() []transport.Transport {
	out := make([]transport.Transport, 0, len(s.order))
	for _, kind := range s.order {
		out = append(out, s.transports[kind])
	}
	return out
}

// SwitchTo persists kind and then makes it active. Calls that already
// obtained the previous transport finish on it. No authentication is
// performed; each transport keeps its own session.
func (s *Switchboard) SwitchTo(kind transport.Kind) error {
	if _, ok := s.transports[kind]; !ok {
		return svcerrors.ValidationFailed(fmt.Sprintf("transport %q is not registered", kind), nil)
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	if err := s.storage.Set(KeySelection, string(kind)); err != nil {
		return fmt.Errorf("failed to persist transport selection: %w", err)
	}

	s.mu.Lock()
	previous := s.active
	s.active = kind
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if previous == kind {
		return nil
	}

	s.logger.Info("Switched transport",
		logging.String("from", string(previous)),
		logging.String("to", string(kind)),
	)
	for _, l := range listeners {
		l(previous, kind)
	}
	return nil
}

// snapshotListeners must be called with s.mu held.
func (s *Switchboard) snapshotListeners() []Listener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

// OnSwitch registers l and returns a function that removes it.
func (s *Switchboard) OnSwitch(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close closes every registered transport.
func (s *Switchboard) Close(ctx context.Context) error {
	var errs []error
	for _, t := range s.All() {
		if err := t.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s transport: %w", t.Kind(), err))
		}
	}
	return errors.Join(errs...)
}
