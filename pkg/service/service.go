// Package service exposes remote services by name. Every call resolves the
// active transport at the moment it is made, so switching transports
// affects only calls that start afterwards.
//
// The Proxy deals in raw JSON:
//
//	page, err := proxy.Find(ctx, "messages", protocol.Query{Limit: 20})
//
// For[T] wraps it with typed decoding:
//
//	messages := service.For[Message](proxy, "messages")
//	all, err := messages.FindAll(ctx, protocol.Query{})
//
// The proxy never retries, caches or rewrites errors. What the transport
// returns is what the caller sees.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/pagination"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// Resolver returns the transport calls should use right now. A
// switchboard.Switchboard satisfies it.
type Resolver interface {
	Active() transport.Transport
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Proxy performs service calls through the active transport.
type Proxy struct {
	resolver Resolver
	logger   logging.Logger
}

// NewProxy creates a proxy over resolver.
func NewProxy(resolver Resolver, opts ...Option) *Proxy {
	p := &Proxy{
		resolver: resolver,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithFields(logging.String("component", "service"))
	return p
}

// Invoke sends call on the active transport.
func (p *Proxy) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}
	return p.resolver.Active().Invoke(ctx, call)
}

// Find returns one page of records matching q.
func (p *Proxy) Find(ctx context.Context, name string, q protocol.Query) (*protocol.PaginatedResult[json.RawMessage], error) {
	if err := pagination.ValidateQuery(q); err != nil {
		return nil, err
	}
	raw, err := p.Invoke(ctx, &protocol.Call{Service: name, Method: protocol.OpFind, Query: q})
	if err != nil {
		return nil, err
	}
	page := &protocol.PaginatedResult[json.RawMessage]{}
	if err := decode(raw, page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []json.RawMessage{}
	}
	return page, nil
}

// Get returns the record with id.
func (p *Proxy) Get(ctx context.Context, name, id string) (json.RawMessage, error) {
	return p.Invoke(ctx, &protocol.Call{Service: name, Method: protocol.OpGet, ID: id})
}

// Create stores a new record. data may be any JSON-marshalable value.
func (p *Proxy) Create(ctx context.Context, name string, data interface{}) (json.RawMessage, error) {
	return p.Invoke(ctx, &protocol.Call{Service: name, Method: protocol.OpCreate, Data: data})
}

// Patch merges data into the record with id.
func (p *Proxy) Patch(ctx context.Context, name, id string, data interface{}) (json.RawMessage, error) {
	return p.Invoke(ctx, &protocol.Call{Service: name, Method: protocol.OpPatch, ID: id, Data: data})
}

// Update replaces the record with id.
func (p *Proxy) Update(ctx context.Context, name, id string, data interface{}) (json.RawMessage, error) {
	return p.Invoke(ctx, &protocol.Call{Service: name, Method: protocol.OpUpdate, ID: id, Data: data})
}

// Remove deletes the record with id and returns it.
func (p *Proxy) Remove(ctx context.Context, name, id string) (json.RawMessage, error) {
	return p.Invoke(ctx, &protocol.Call{Service: name, Method: protocol.OpRemove, ID: id})
}

// On subscribes handler to event on the named service. The subscription is
// made on the transport active now and stays there after a switch. It fails
// with transport.ErrEventsUnsupported when that transport cannot deliver
// pushed events.
func (p *Proxy) On(name, event string, handler transport.EventHandler) (func(), error) {
	if handler == nil {
		return nil, svcerrors.ValidationFailed("event handler is required", nil)
	}
	t := p.resolver.Active()
	source, ok := transport.AsEventSource(t)
	if !ok {
		return nil, transport.ErrEventsUnsupported
	}
	p.logger.Debug("Subscribed to service event",
		logging.String("service", name),
		logging.String("event", event),
		logging.String("transport", string(t.Kind())))
	return source.On(name, event, handler), nil
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return svcerrors.Unknown(fmt.Errorf("decode service result: %w", err))
	}
	return nil
}
