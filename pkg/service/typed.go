package service

import (
	"context"
	"encoding/json"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/pagination"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// Service is a typed view of one remote service.
type Service[T any] struct {
	proxy *Proxy
	name  string
}

// For returns a typed accessor for the named service.
func For[T any](proxy *Proxy, name string) *Service[T] {
	return &Service[T]{proxy: proxy, name: name}
}

// Name returns the service name.
func (s *Service[T]) Name() string { return s.name }

// Find returns one page of records matching q.
func (s *Service[T]) Find(ctx context.Context, q protocol.Query) (*protocol.PaginatedResult[T], error) {
	raw, err := s.proxy.Find(ctx, s.name, q)
	if err != nil {
		return nil, err
	}
	page := &protocol.PaginatedResult[T]{
		Total: raw.Total,
		Limit: raw.Limit,
		Skip:  raw.Skip,
		Data:  make([]T, 0, len(raw.Data)),
	}
	for _, item := range raw.Data {
		var v T
		if err := decode(item, &v); err != nil {
			return nil, err
		}
		page.Data = append(page.Data, v)
	}
	return page, nil
}

// FindAll walks every page of q starting at q.Skip and returns the records
// in server order.
func (s *Service[T]) FindAll(ctx context.Context, q protocol.Query) ([]T, error) {
	if err := pagination.ValidateQuery(q); err != nil {
		return nil, err
	}

	collector := pagination.NewCollector()
	collector.NextSkip = q.Skip
	var all []T

	for collector.HasMore {
		page, err := s.Find(ctx, collector.NextQuery(q))
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		collector.Update(page.Total, page.Skip, len(page.Data))
	}

	return all, nil
}

// Get returns the record with id.
func (s *Service[T]) Get(ctx context.Context, id string) (T, error) {
	return s.result(s.proxy.Get(ctx, s.name, id))
}

// Create stores data and returns the created record.
func (s *Service[T]) Create(ctx context.Context, data interface{}) (T, error) {
	return s.result(s.proxy.Create(ctx, s.name, data))
}

// Patch merges data into the record with id.
func (s *Service[T]) Patch(ctx context.Context, id string, data interface{}) (T, error) {
	return s.result(s.proxy.Patch(ctx, s.name, id, data))
}

// Update replaces the record with id.
func (s *Service[T]) Update(ctx context.Context, id string, data interface{}) (T, error) {
	return s.result(s.proxy.Update(ctx, s.name, id, data))
}

// Remove deletes the record with id and returns it.
func (s *Service[T]) Remove(ctx context.Context, id string) (T, error) {
	return s.result(s.proxy.Remove(ctx, s.name, id))
}

// On subscribes handler to event. Payloads that do not decode into T are
// logged and dropped.
func (s *Service[T]) On(event string, handler func(T)) (func(), error) {
	if handler == nil {
		return nil, svcerrors.ValidationFailed("event handler is required", nil)
	}
	return s.proxy.On(s.name, event, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			s.proxy.logger.Warn("Dropping undecodable event",
				logging.String("service", s.name),
				logging.String("event", event),
				logging.ErrorField(err))
			return
		}
		handler(v)
	})
}

func (s *Service[T]) result(raw json.RawMessage, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := decode(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}
