package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Endpoint, config.Endpoint)
	assert.Equal(t, transport.KindREST, config.Transport)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
endpoint: https://api.example.com
transport: socket
storagePath: /tmp/feathers/state.json
log:
  level: debug
  format: json
metrics:
  enabled: true
tracing:
  enabled: true
  exporter: otlp-http
  endpoint: collector:4318
  sampleRate: 0.5
socket:
  streaming:
    reconnectAttempts: 9
    reconnectDelay: 250ms
rest:
  connection:
    timeout: 3s
`)
	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", config.Endpoint)
	assert.Equal(t, transport.KindSocket, config.Transport)
	assert.Equal(t, "debug", config.Log.Level)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "feathers_client", config.Metrics.Namespace)
	assert.Equal(t, observability.ExporterTypeOTLPHTTP, config.Tracing.ExporterType)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)

	// Unset fields keep their defaults
	assert.Equal(t, 9, config.Socket.Streaming.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, config.Socket.Streaming.ReconnectDelay)
	assert.Equal(t, Default().Socket.Streaming.InvokeTimeout, config.Socket.Streaming.InvokeTimeout)
	assert.Equal(t, 3*time.Second, config.REST.Connection.Timeout)

	for _, tc := range config.TransportConfigs() {
		assert.Equal(t, "https://api.example.com", tc.Endpoint)
	}
	assert.Equal(t, transport.KindSocket, config.TransportConfigs()[1].Kind)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "endpoint: [unterminated"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "endpoint: https://file.example.com\ntransport: rest\n")
	t.Setenv(EnvEndpoint, "http://env.example.com:8080")
	t.Setenv(EnvTransport, "Socket")
	t.Setenv(EnvReconnectAttempts, "2")
	t.Setenv(EnvReconnectDelay, "50ms")
	t.Setenv(EnvMetrics, "true")
	t.Setenv(EnvLogFormat, "json")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com:8080", config.Endpoint)
	assert.Equal(t, transport.KindSocket, config.Transport)
	assert.Equal(t, 2, config.Socket.Streaming.ReconnectAttempts)
	assert.Equal(t, 50*time.Millisecond, config.Socket.Streaming.ReconnectDelay)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "json", config.Log.Format)
}

func TestInvalidEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvTransport, "pigeon"},
		{EnvReconnectAttempts, "many"},
		{EnvReconnectDelay, "soon"},
		{EnvTracing, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.True(t, svcerrors.IsValidationFailed(err), "got %v", err)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	config := Default()
	config.Endpoint = "ftp://example.com"
	config.Log.Level = "chatty"
	config.Tracing.Enabled = true
	config.Tracing.ExporterType = "carrier"

	err := config.Validate()
	require.Error(t, err)
	assert.True(t, svcerrors.IsValidationFailed(err))
	assert.Contains(t, err.Error(), "http or https")
	assert.Contains(t, err.Error(), "chatty")
	assert.Contains(t, err.Error(), "carrier")
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	config := Default()
	config.Endpoint = "https://saved.example.com"
	config.Socket.Streaming.ReconnectDelay = 750 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, config.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Endpoint, loaded.Endpoint)
	assert.Equal(t, 750*time.Millisecond, loaded.Socket.Streaming.ReconnectDelay)
}

func TestNewLogger(t *testing.T) {
	config := Default()
	config.Log.Level = "warn"
	config.Log.Format = "json"

	var buf bytes.Buffer
	logger, err := config.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"shown"`)
}
