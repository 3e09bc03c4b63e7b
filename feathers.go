package feathers

import (
	"github.com/ajitpratap0/feathers-client-go/pkg/client"
	"github.com/ajitpratap0/feathers-client-go/pkg/config"
	"github.com/ajitpratap0/feathers-client-go/pkg/memserver"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// Version represents the current version of the client
const Version = "0.1.0"

// These exports provide direct access to the core components
var (
	// NewClient creates a client from a configuration
	NewClient = client.New

	// DefaultConfig returns a configuration for a local server
	DefaultConfig = config.Default

	// LoadConfig reads a YAML file and FEATHERS_* overrides
	LoadConfig = config.Load

	// NewMemServer creates an in-memory server for tests and demos
	NewMemServer = memserver.New
)

// Transport kinds
const (
	REST   = transport.KindREST
	Socket = transport.KindSocket
)

// Service events
const (
	EventCreated = protocol.EventCreated
	EventUpdated = protocol.EventUpdated
	EventPatched = protocol.EventPatched
	EventRemoved = protocol.EventRemoved
)

// Client options
var (
	WithStorage  = client.WithStorage
	WithLogger   = client.WithLogger
	WithProvider = client.WithProvider
	WithSink     = client.WithSink
)
