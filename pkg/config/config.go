// Package config loads client configuration from a YAML file and the
// environment.
//
// Values are applied in order: built-in defaults, the YAML file, then
// FEATHERS_* environment variables. The result is validated before it is
// returned.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

const (
	configDirName  = "feathersctl"
	configFileName = "config.yaml"
)

// Config is the complete client configuration.
type Config struct {
	// Endpoint is the server base URL shared by both transports
	Endpoint string `yaml:"endpoint"`

	// Transport is the selection used when none has been persisted yet
	Transport transport.Kind `yaml:"transport"`

	// StoragePath is the file backing credentials and the transport
	// selection. Empty means storage.DefaultPath.
	StoragePath string `yaml:"storagePath"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	// Per-transport settings. Kind and Endpoint are filled in from the
	// fields above.
	REST   transport.TransportConfig `yaml:"rest"`
	Socket transport.TransportConfig `yaml:"socket"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus sink.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig enables the OpenTelemetry sink.
type TracingConfig struct {
	Enabled                     bool `yaml:"enabled"`
	observability.TracingConfig `yaml:",inline"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Endpoint:  "http://localhost:3030",
		Transport: transport.KindREST,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "feathers_client",
		},
		Tracing: TracingConfig{
			TracingConfig: observability.TracingConfig{
				ServiceName:  "feathersctl",
				ExporterType: observability.ExporterTypeOTLPGRPC,
				Endpoint:     "localhost:4317",
				SampleRate:   1.0,
			},
		},
		REST:   transport.DefaultTransportConfig(transport.KindREST),
		Socket: transport.DefaultTransportConfig(transport.KindSocket),
	}
}

// DefaultPath returns ~/.config/feathersctl/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, configDirName, configFileName), nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file; a
// missing file is not an error.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&config, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Save writes c as YAML to path, creating the directory if needed.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// TransportConfigs returns one config per transport kind with the shared
// endpoint applied.
func (c Config) TransportConfigs() []transport.TransportConfig {
	rest := c.REST
	rest.Kind = transport.KindREST
	rest.Endpoint = c.Endpoint

	socket := c.Socket
	socket.Kind = transport.KindSocket
	socket.Endpoint = c.Endpoint

	return []transport.TransportConfig{rest, socket}
}

// NewLogger builds the logger the config describes, writing to out.
func (c Config) NewLogger(out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := logging.NewFormatter(c.Log.Format)
	if err != nil {
		return nil, err
	}
	logger := logging.New(out, formatter)
	logger.SetLevel(level)
	return logger, nil
}
