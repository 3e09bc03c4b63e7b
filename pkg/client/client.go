package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ajitpratap0/feathers-client-go/pkg/auth"
	"github.com/ajitpratap0/feathers-client-go/pkg/config"
	"github.com/ajitpratap0/feathers-client-go/pkg/credential"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/service"
	"github.com/ajitpratap0/feathers-client-go/pkg/storage"
	"github.com/ajitpratap0/feathers-client-go/pkg/switchboard"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// Option customizes how New assembles a Client.
type Option func(*options)

type options struct {
	storage  storage.Storage
	logger   logging.Logger
	provider auth.ExternalProvider
	sinks    []observability.Sink
}

// WithStorage replaces the file-backed storage, e.g. with
// storage.NewMemoryStorage in tests.
func WithStorage(s storage.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithLogger replaces the logger built from the config.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProvider configures an external identity provider.
func WithProvider(p auth.ExternalProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithSink adds an observability sink next to the configured ones.
func WithSink(sink observability.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sink)
	}
}

// Client owns one instance of every component and the wiring between them.
type Client struct {
	logger  logging.Logger
	storage storage.Storage
	board   *switchboard.Switchboard
	auth    *auth.Coordinator
	proxy   *service.Proxy

	metrics *observability.MetricsSink
	tracing *sdktrace.TracerProvider

	stopSwitch func()
}

// New builds a client from cfg. Nothing touches the network until Start,
// Login or a service call.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		l, err := cfg.NewLogger(os.Stderr)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	store := o.storage
	if store == nil {
		path := cfg.StoragePath
		if path == "" {
			p, err := storage.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		fs, err := storage.NewFileStorage(path)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	c := &Client{logger: logger, storage: store}

	sinks := observability.MultiSink{observability.NewLoggerSink(logger)}
	if cfg.Metrics.Enabled {
		m, err := observability.NewMetricsSink(observability.MetricsConfig{Namespace: cfg.Metrics.Namespace})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics sink: %w", err)
		}
		c.metrics = m
		sinks = append(sinks, m)
	}
	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracingProvider(cfg.Tracing.TracingConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer provider: %w", err)
		}
		c.tracing = tp
		sinks = append(sinks, observability.NewTracingSink(tp))
	}
	sinks = append(sinks, o.sinks...)
	layer := observability.NewLayer(sinks, logger)

	var transports []transport.Transport
	for _, tc := range cfg.TransportConfigs() {
		tc.Logger = logger
		tc.Layer = layer
		t, err := transport.NewTransport(tc)
		if err != nil {
			return nil, errors.Join(err, c.shutdownTracing(context.Background()))
		}
		transports = append(transports, t)
	}

	board, err := switchboard.New(store, transports,
		switchboard.WithLogger(logger),
		switchboard.WithDefault(cfg.Transport))
	if err != nil {
		return nil, errors.Join(err, c.shutdownTracing(context.Background()))
	}
	c.board = board

	authOpts := []auth.Option{auth.WithLogger(logger)}
	if o.provider != nil {
		authOpts = append(authOpts, auth.WithProvider(o.provider))
	}
	c.auth = auth.NewCoordinator(board, credential.NewStore(store), authOpts...)
	c.stopSwitch = board.OnSwitch(c.auth.TransportSwitched)
	c.proxy = service.NewProxy(board, service.WithLogger(logger))

	return c, nil
}

// Start restores the persisted transport selection, connects it and
// restores the previous identity. auth.ErrLoginRequired means the client is
// ready but the caller must log in.
func (c *Client) Start(ctx context.Context) (*auth.Identity, error) {
	kind, err := c.board.Restore()
	if err != nil {
		return nil, err
	}
	if err := c.board.Active().Connect(ctx); err != nil {
		c.logger.WithError(err).Warn("Initial connect failed", logging.String("transport", string(kind)))
		return nil, err
	}
	return c.auth.Start(ctx)
}

// Login authenticates with payload on the active transport.
func (c *Client) Login(ctx context.Context, payload protocol.AuthPayload) (*auth.Identity, error) {
	if err := c.board.Active().Connect(ctx); err != nil {
		return nil, err
	}
	return c.auth.Login(ctx, payload)
}

// LoginWithProvider authenticates with the external provider's session.
func (c *Client) LoginWithProvider(ctx context.Context) (*auth.Identity, error) {
	if err := c.board.Active().Connect(ctx); err != nil {
		return nil, err
	}
	return c.auth.LoginWithProvider(ctx)
}

// Reauthenticate presents the stored credential to the active transport.
func (c *Client) Reauthenticate(ctx context.Context) (*auth.Identity, error) {
	return c.auth.Reauthenticate(ctx)
}

// Logout ends the session. See auth.Coordinator.Logout.
func (c *Client) Logout(ctx context.Context) error {
	return c.auth.Logout(ctx)
}

// Identity returns the current identity, waiting for an in-flight handshake.
func (c *Client) Identity(ctx context.Context) (*auth.Identity, error) {
	return c.auth.Identity(ctx)
}

// Auth returns the authentication coordinator.
func (c *Client) Auth() *auth.Coordinator { return c.auth }

// Service returns the untyped service proxy.
func (c *Client) Service() *service.Proxy { return c.proxy }

// Transport returns the active transport kind.
func (c *Client) Transport() transport.Kind { return c.board.Selection() }

// Switchboard returns the transport switchboard.
func (c *Client) Switchboard() *switchboard.Switchboard { return c.board }

// SwitchTransport connects the transport for kind and makes it active. The
// identity follows whatever session that transport already holds; when it
// holds none the client is Unauthenticated until Reauthenticate or Login.
func (c *Client) SwitchTransport(ctx context.Context, kind transport.Kind) error {
	t, ok := c.board.Get(kind)
	if !ok {
		return c.board.SwitchTo(kind)
	}
	if err := t.Connect(ctx); err != nil {
		return err
	}
	return c.board.SwitchTo(kind)
}

// MetricsHandler serves the client's Prometheus metrics, or returns nil
// when metrics are disabled.
func (c *Client) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// Close closes every transport and flushes telemetry. The session is left
// intact; use Logout to end it.
func (c *Client) Close(ctx context.Context) error {
	c.stopSwitch()
	return errors.Join(c.board.Close(ctx), c.shutdownTracing(ctx))
}

func (c *Client) shutdownTracing(ctx context.Context) error {
	if c.tracing == nil {
		return nil
	}
	return c.tracing.Shutdown(ctx)
}
