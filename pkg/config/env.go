package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "FEATHERS_"

// Environment overrides
const (
	EnvEndpoint          = EnvPrefix + "ENDPOINT"
	EnvTransport         = EnvPrefix + "TRANSPORT"
	EnvStoragePath       = EnvPrefix + "STORAGE_PATH"
	EnvLogLevel          = EnvPrefix + "LOG_LEVEL"
	EnvLogFormat         = EnvPrefix + "LOG_FORMAT"
	EnvMetrics           = EnvPrefix + "METRICS"
	EnvTracing           = EnvPrefix + "TRACING"
	EnvTracingExporter   = EnvPrefix + "TRACING_EXPORTER"
	EnvOTLPEndpoint      = EnvPrefix + "OTLP_ENDPOINT"
	EnvRequestTimeout    = EnvPrefix + "REQUEST_TIMEOUT"
	EnvReconnectAttempts = EnvPrefix + "RECONNECT_ATTEMPTS"
	EnvReconnectDelay    = EnvPrefix + "RECONNECT_DELAY"
	EnvInvokeTimeout     = EnvPrefix + "INVOKE_TIMEOUT"
)

type lookupFunc func(key string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str(EnvEndpoint, &c.Endpoint)
	str(EnvStoragePath, &c.StoragePath)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvOTLPEndpoint, &c.Tracing.Endpoint)

	if v, ok := lookup(EnvTransport); ok && v != "" {
		kind, err := transport.ParseKind(v)
		if err != nil {
			return envError(EnvTransport, v, err)
		}
		c.Transport = kind
	}
	if v, ok := lookup(EnvTracingExporter); ok && v != "" {
		c.Tracing.ExporterType = observability.ExporterType(strings.ToLower(strings.TrimSpace(v)))
	}

	if err := parseBool(lookup, EnvMetrics, &c.Metrics.Enabled); err != nil {
		return err
	}
	if err := parseBool(lookup, EnvTracing, &c.Tracing.Enabled); err != nil {
		return err
	}

	if err := parseDuration(lookup, EnvRequestTimeout, &c.REST.Connection.Timeout); err != nil {
		return err
	}
	if err := parseDuration(lookup, EnvReconnectDelay, &c.Socket.Streaming.ReconnectDelay); err != nil {
		return err
	}
	if err := parseDuration(lookup, EnvInvokeTimeout, &c.Socket.Streaming.InvokeTimeout); err != nil {
		return err
	}
	if v, ok := lookup(EnvReconnectAttempts); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return envError(EnvReconnectAttempts, v, err)
		}
		c.Socket.Streaming.ReconnectAttempts = n
	}

	return nil
}

func parseBool(lookup lookupFunc, key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return envError(key, v, err)
	}
	*dst = b
	return nil
}

func parseDuration(lookup lookupFunc, key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return envError(key, v, err)
	}
	*dst = d
	return nil
}

func envError(key, value string, cause error) error {
	return svcerrors.ValidationFailed(fmt.Sprintf("invalid %s %q: %v", key, value, cause),
		map[string]string{"variable": key})
}
