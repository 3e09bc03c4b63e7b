package transport

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// Middleware represents a transport middleware that can wrap a transport
// to add additional functionality like reliability, observability, etc.
type Middleware interface {
	// Wrap wraps the given transport with middleware functionality
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware chains multiple middleware together
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(transport Transport) Transport {
		// Apply middleware in reverse order so the first middleware is the outermost
		for i := len(middleware) - 1; i >= 0; i-- {
			transport = middleware[i].Wrap(transport)
		}
		return transport
	})
}

// middlewareTransport is a base type for middleware implementations
type middlewareTransport struct {
	next Transport
}

func (m *middlewareTransport) Kind() Kind { return m.next.Kind() }

func (m *middlewareTransport) Connect(ctx context.Context) error {
	return m.next.Connect(ctx)
}

func (m *middlewareTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	return m.next.Authenticate(ctx, payload)
}

func (m *middlewareTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	return m.next.Invoke(ctx, call)
}

func (m *middlewareTransport) Logout(ctx context.Context) error {
	return m.next.Logout(ctx)
}

func (m *middlewareTransport) Session() *protocol.AuthResult {
	return m.next.Session()
}

func (m *middlewareTransport) Close(ctx context.Context) error {
	return m.next.Close(ctx)
}

// Unwrap returns the wrapped transport
func (m *middlewareTransport) Unwrap() Transport {
	return m.next
}

// MiddlewareBuilder builds middleware from configuration
type MiddlewareBuilder struct {
	config TransportConfig
}

// NewMiddlewareBuilder creates a new middleware builder
func NewMiddlewareBuilder(config TransportConfig) *MiddlewareBuilder {
	return &MiddlewareBuilder{config: config}
}

// Build constructs the middleware chain based on configuration. The first
// element is the outermost layer.
func (mb *MiddlewareBuilder) Build() []Middleware {
	var middleware []Middleware

	// Observability is outermost so a retried call is recorded once
	if mb.config.Features.EnableObservability && mb.config.Layer != nil {
		middleware = append(middleware, NewObservabilityMiddleware(mb.config.Layer.ForTransport(string(mb.config.Kind))))
	}

	if mb.config.Features.EnableReliability {
		middleware = append(middleware, NewReliabilityMiddleware(mb.config.Reliability, loggerFor(mb.config)))
	}

	// Rate limiting sits closest to the wire so retries are limited too
	if mb.config.Features.EnableRateLimiting {
		middleware = append(middleware, NewRateLimitMiddleware(mb.config.RateLimit))
	}

	return middleware
}

// RateLimitMiddleware delays calls so they stay under a fixed rate.
type RateLimitMiddleware struct {
	limiter *rate.Limiter
}

// NewRateLimitMiddleware creates a limiter shared by every call through the
// wrapped transport.
func NewRateLimitMiddleware(config RateLimitConfig) Middleware {
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitMiddleware{limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)}
}

// Wrap implements the Middleware interface
func (rl *RateLimitMiddleware) Wrap(transport Transport) Transport {
	return &rateLimitTransport{
		middlewareTransport: middlewareTransport{next: transport},
		limiter:             rl.limiter,
	}
}

type rateLimitTransport struct {
	middlewareTransport
	limiter *rate.Limiter
}

func (rt *rateLimitTransport) wait(ctx context.Context, op string) error {
	if err := rt.limiter.Wait(ctx); err != nil {
		return svcerrors.WrapErrorf(err, svcerrors.CodeTooManyRequests,
			"client rate limit exceeded for %s", op)
	}
	return nil
}

func (rt *rateLimitTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	if err := rt.wait(ctx, string(call.Method)); err != nil {
		return nil, err
	}
	return rt.next.Invoke(ctx, call)
}

func (rt *rateLimitTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	if err := rt.wait(ctx, "authenticate"); err != nil {
		return nil, err
	}
	return rt.next.Authenticate(ctx, payload)
}
