package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// Transport carries authentication handshakes and service calls. A transport
// owns its own authenticated session; switching transports does not move the
// session across.
type Transport interface {
	// Kind identifies the transport implementation
	Kind() Kind

	// Connect establishes the underlying connection, if any
	Connect(ctx context.Context) error

	// Authenticate performs the handshake and keeps the resulting session
	Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error)

	// Invoke performs one service call and returns the raw result
	Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error)

	// Logout ends the server-side session. The local session is dropped even
	// when the request fails.
	Logout(ctx context.Context) error

	// Session returns a copy of the current session, or nil
	Session() *protocol.AuthResult

	// Close releases every resource held by the transport
	Close(ctx context.Context) error
}

// EventHandler receives the payload of a server-pushed service event.
type EventHandler func(data json.RawMessage)

// EventSource is implemented by transports that deliver server-pushed
// service events.
type EventSource interface {
	// On subscribes handler to event on the service at path. The returned
	// function removes the subscription.
	On(path, event string, handler EventHandler) func()
}

// ErrEventsUnsupported is returned when subscribing through a transport that
// cannot deliver pushed events.
var ErrEventsUnsupported = errors.New("transport does not deliver service events")

// AsEventSource finds an EventSource behind any middleware wrapping t.
func AsEventSource(t Transport) (EventSource, bool) {
	return unwrapTo[EventSource](t)
}

// SessionLostHandler receives the access token a transport just lost and
// the server's reason.
type SessionLostHandler func(token string, err error)

// SessionWatcher is implemented by transports that can lose their session
// without a Logout, such as a socket whose re-authentication after a
// reconnect is rejected.
type SessionWatcher interface {
	// OnSessionLost registers handler. The returned function removes it.
	OnSessionLost(handler SessionLostHandler) func()
}

// AsSessionWatcher finds a SessionWatcher behind any middleware wrapping t.
func AsSessionWatcher(t Transport) (SessionWatcher, bool) {
	return unwrapTo[SessionWatcher](t)
}

func unwrapTo[T any](t Transport) (T, bool) {
	var zero T
	for t != nil {
		if v, ok := t.(T); ok {
			return v, true
		}
		u, ok := t.(interface{ Unwrap() Transport })
		if !ok {
			return zero, false
		}
		t = u.Unwrap()
	}
	return zero, false
}

// Kind identifies the base transport implementation
type Kind string

const (
	KindREST   Kind = "rest"
	KindSocket Kind = "socket"
)

// Kinds lists every supported transport kind.
var Kinds = []Kind{KindREST, KindSocket}

// ParseKind converts a selection string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindREST, KindSocket:
		return k, nil
	}
	return "", svcerrors.ValidationFailed(fmt.Sprintf("unknown transport %q (want rest or socket)", s), nil)
}

// TransportConfig is the unified configuration for both transports
type TransportConfig struct {
	// Kind of transport to create
	Kind Kind `json:"kind" yaml:"kind"`

	// Endpoint is the server base URL, e.g. http://localhost:3030
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SocketPath is appended to Endpoint for the WebSocket upgrade
	SocketPath string `json:"socket_path" yaml:"socketPath"`

	// Feature configuration
	Features FeatureConfig `json:"features" yaml:"features"`

	// Component configurations
	Connection  ConnectionConfig  `json:"connection" yaml:"connection"`
	Streaming   StreamingConfig   `json:"streaming" yaml:"streaming"`
	Reliability ReliabilityConfig `json:"reliability" yaml:"reliability"`
	RateLimit   RateLimitConfig   `json:"rate_limit" yaml:"rateLimit"`

	// Runtime collaborators, never serialized
	Logger     logging.Logger       `json:"-" yaml:"-"`
	Layer      *observability.Layer `json:"-" yaml:"-"`
	HTTPClient *http.Client         `json:"-" yaml:"-"`
	Dialer     *websocket.Dialer    `json:"-" yaml:"-"`
}

// FeatureConfig controls which middleware are enabled
type FeatureConfig struct {
	EnableReliability   bool `json:"enable_reliability" yaml:"reliability"`
	EnableObservability bool `json:"enable_observability" yaml:"observability"`
	EnableRateLimiting  bool `json:"enable_rate_limiting" yaml:"rateLimiting"`
}

// ConnectionConfig for HTTP connection management
type ConnectionConfig struct {
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	KeepAlive       time.Duration `json:"keep_alive" yaml:"keepAlive"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"maxIdleConns"`
	MaxConnsPerHost int           `json:"max_conns_per_host" yaml:"maxConnsPerHost"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout" yaml:"idleConnTimeout"`
}

// StreamingConfig controls the socket reconnection policy
type StreamingConfig struct {
	ReconnectAttempts int           `json:"reconnect_attempts" yaml:"reconnectAttempts"`
	ReconnectDelay    time.Duration `json:"reconnect_delay" yaml:"reconnectDelay"`
	ConnectTimeout    time.Duration `json:"connect_timeout" yaml:"connectTimeout"`
	InvokeTimeout     time.Duration `json:"invoke_timeout" yaml:"invokeTimeout"`
	QueueSize         int           `json:"queue_size" yaml:"queueSize"`
	MaxFrameSize      int64         `json:"max_frame_size" yaml:"maxFrameSize"`
}

// ReliabilityConfig for retry and resilience
type ReliabilityConfig struct {
	MaxRetries         int                  `json:"max_retries" yaml:"maxRetries"`
	InitialRetryDelay  time.Duration        `json:"initial_retry_delay" yaml:"initialRetryDelay"`
	MaxRetryDelay      time.Duration        `json:"max_retry_delay" yaml:"maxRetryDelay"`
	RetryBackoffFactor float64              `json:"retry_backoff_factor" yaml:"retryBackoffFactor"`
	CircuitBreaker     CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuitBreaker"`
}

// CircuitBreakerConfig for circuit breaker pattern
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failureThreshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"successThreshold"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
}

// RateLimitConfig bounds the client-side call rate
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requestsPerSecond"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// DefaultTransportConfig returns a config with defaults for the given kind.
// Reliability middleware is off so calls are never retried automatically.
func DefaultTransportConfig(kind Kind) TransportConfig {
	return TransportConfig{
		Kind:       kind,
		Endpoint:   "http://localhost:3030",
		SocketPath: "/ws",
		Features: FeatureConfig{
			EnableObservability: true,
		},
		Connection: ConnectionConfig{
			Timeout:         30 * time.Second,
			KeepAlive:       30 * time.Second,
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
		},
		Streaming: StreamingConfig{
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
			ConnectTimeout:    10 * time.Second,
			InvokeTimeout:     30 * time.Second,
			QueueSize:         256,
			MaxFrameSize:      1 << 20,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:         0,
			InitialRetryDelay:  200 * time.Millisecond,
			MaxRetryDelay:      5 * time.Second,
			RetryBackoffFactor: 2.0,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             10,
		},
	}
}

// NewTransport creates a transport with the middleware chain its config asks
// for.
func NewTransport(config TransportConfig) (Transport, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	base, err := createBaseTransport(config)
	if err != nil {
		return nil, err
	}

	builder := NewMiddlewareBuilder(config)
	middleware := builder.Build()

	return ChainMiddleware(middleware...).Wrap(base), nil
}

func createBaseTransport(config TransportConfig) (Transport, error) {
	switch config.Kind {
	case KindREST:
		return NewRESTTransport(config)
	case KindSocket:
		return NewSocketTransport(config)
	default:
		return nil, fmt.Errorf("unsupported transport kind: %s", config.Kind)
	}
}

// ValidateConfig checks config without building a transport.
func ValidateConfig(config TransportConfig) error {
	if _, err := ParseKind(string(config.Kind)); err != nil {
		return err
	}

	u, err := url.Parse(config.Endpoint)
	if err != nil || u.Host == "" {
		return svcerrors.ValidationFailed(fmt.Sprintf("invalid endpoint %q", config.Endpoint), nil)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return svcerrors.ValidationFailed(fmt.Sprintf("endpoint %q must use http or https", config.Endpoint), nil)
	}

	if config.Connection.Timeout < 0 {
		return svcerrors.ValidationFailed("connection timeout cannot be negative", nil)
	}

	if config.Kind == KindSocket {
		s := config.Streaming
		if s.ReconnectAttempts < 0 {
			return svcerrors.ValidationFailed("reconnect attempts cannot be negative", nil)
		}
		if s.ReconnectDelay < 0 || s.ConnectTimeout <= 0 || s.InvokeTimeout <= 0 {
			return svcerrors.ValidationFailed("streaming delays and timeouts must be positive", nil)
		}
		if s.QueueSize <= 0 {
			return svcerrors.ValidationFailed("streaming queue size must be positive", nil)
		}
	}

	if config.Features.EnableRateLimiting && config.RateLimit.RequestsPerSecond <= 0 {
		return svcerrors.ValidationFailed("rate limit must be positive when rate limiting is enabled", nil)
	}

	if config.Features.EnableReliability {
		r := config.Reliability
		if r.MaxRetries < 0 {
			return svcerrors.ValidationFailed("max retries cannot be negative", nil)
		}
		if r.CircuitBreaker.Enabled && r.CircuitBreaker.FailureThreshold <= 0 {
			return svcerrors.ValidationFailed("circuit breaker failure threshold must be positive", nil)
		}
	}

	return nil
}

func loggerFor(config TransportConfig) logging.Logger {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return logger.WithFields(
		logging.String("component", "transport"),
		logging.String("transport", string(config.Kind)),
	)
}

func copySession(s *protocol.AuthResult) *protocol.AuthResult {
	if s == nil {
		return nil
	}
	c := *s
	if s.User != nil {
		c.User = append(json.RawMessage(nil), s.User...)
	}
	return &c
}
