// Package memserver is an in-memory Feathers-style server. It speaks the
// same REST routes and WebSocket frames as a real deployment and exists to
// exercise the client in tests, demos and the feathersctl serve command.
// Nothing is persisted.
package memserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// Config configures the server
type Config struct {
	// Secret signs access tokens. A random secret is generated when empty.
	Secret []byte

	// Issuer is the iss claim of every access token
	Issuer string

	// TokenTTL bounds the lifetime of access tokens
	TokenTTL time.Duration

	// Services lists the collections served besides users
	Services []string

	// VerifyProvider checks an external-provider session. The default
	// accepts any non-empty provider token.
	VerifyProvider func(token string, snapshot map[string]interface{}) error

	// BcryptCost is the password hashing cost
	BcryptCost int

	Logger logging.Logger
}

// DefaultConfig returns the configuration used by New when fields are unset.
func DefaultConfig() Config {
	return Config{
		Issuer:     "feathers-memserver",
		TokenTTL:   24 * time.Hour,
		Services:   []string{"messages"},
		BcryptCost: 4,
	}
}

// Server is the in-memory server. It is safe for concurrent use.
type Server struct {
	config   Config
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	services map[string]*collection
	revoked  map[string]struct{}

	socketsMu sync.Mutex
	sockets   map[*socketClient]struct{}
	accepting atomic.Bool

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	live     prometheus.Gauge

	httpServer *httptest.Server
}

// New creates a server with the users service and every configured
// collection.
func New(config Config) *Server {
	defaults := DefaultConfig()
	if config.Issuer == "" {
		config.Issuer = defaults.Issuer
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaults.TokenTTL
	}
	if config.Services == nil {
		config.Services = defaults.Services
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = defaults.BcryptCost
	}
	if len(config.Secret) == 0 {
		config.Secret = randomSecret()
	}
	if config.VerifyProvider == nil {
		config.VerifyProvider = acceptProvider
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		config: config,
		logger: logger.WithFields(logging.String("component", "memserver")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		services: make(map[string]*collection),
		revoked:  make(map[string]struct{}),
		sockets:  make(map[*socketClient]struct{}),
		registry: prometheus.NewRegistry(),
	}
	s.accepting.Store(true)

	s.services[UsersService] = newUsersCollection(config.BcryptCost)
	for _, name := range config.Services {
		if name != UsersService && name != protocol.AuthenticationPath {
			s.services[name] = newCollection(name)
		}
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memserver",
		Name:      "requests_total",
		Help:      "Service calls handled, by transport and outcome",
	}, []string{"transport", "service", "method", "code"})
	s.live = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "memserver",
		Name:      "sockets",
		Help:      "Open WebSocket connections",
	})
	s.registry.MustRegister(s.requests, s.live)

	return s
}

// Handler returns the HTTP handler serving REST routes, the WebSocket
// endpoint at /ws and Prometheus metrics at /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleREST)
	return logging.HTTPMiddleware(s.logger)(mux)
}

// Start serves on a random loopback port and returns the base URL.
func (s *Server) Start() string {
	s.httpServer = httptest.NewServer(s.Handler())
	return s.httpServer.URL
}

// URL returns the base URL of a started server.
func (s *Server) URL() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.URL
}

// Close drops every socket and stops a server started with Start.
func (s *Server) Close() {
	s.closeSockets()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Listening", logging.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.closeSockets()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Registry exposes the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// SetAccepting controls whether new WebSocket upgrades are accepted. A
// refused upgrade answers 503.
func (s *Server) SetAccepting(accept bool) {
	s.accepting.Store(accept)
}

// DropConnections abruptly closes every open socket, as a network failure
// would, and returns how many were dropped.
func (s *Server) DropConnections() int {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	for c := range s.sockets {
		_ = c.ws.UnderlyingConn().Close()
	}
	return len(s.sockets)
}

// Sockets returns the number of open sockets.
func (s *Server) Sockets() int {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	return len(s.sockets)
}

func (s *Server) closeSockets() {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	for c := range s.sockets {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) observe(transport, service string, method protocol.Operation, code string) {
	s.requests.WithLabelValues(transport, service, string(method), code).Inc()
}
