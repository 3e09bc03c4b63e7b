package config

import (
	"errors"
	"fmt"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/observability"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := transport.ParseKind(string(c.Transport)); err != nil {
		errs = append(errs, err)
	}
	for _, tc := range c.TransportConfigs() {
		if err := transport.ValidateConfig(tc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tc.Kind, err))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, svcerrors.ValidationFailed(err.Error(), nil))
	}
	if _, err := logging.NewFormatter(c.Log.Format); err != nil {
		errs = append(errs, svcerrors.ValidationFailed(err.Error(), nil))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.ExporterType {
		case observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
			if c.Tracing.Endpoint == "" {
				errs = append(errs, svcerrors.ValidationFailed("tracing endpoint is required for OTLP export", nil))
			}
		case observability.ExporterTypeNoop:
		default:
			errs = append(errs, svcerrors.ValidationFailed(
				fmt.Sprintf("unknown tracing exporter %q", c.Tracing.ExporterType), nil))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			errs = append(errs, svcerrors.ValidationFailed("tracing sample rate must be between 0 and 1", nil))
		}
	}

	return errors.Join(errs...)
}
