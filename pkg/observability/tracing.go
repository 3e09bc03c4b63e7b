package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ajitpratap0/feathers-client-go"

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	// Service identification
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`

	// Exporter configuration
	ExporterType ExporterType      `yaml:"exporter"`
	Endpoint     string            `yaml:"endpoint"` // OTLP endpoint
	Headers      map[string]string `yaml:"headers"`
	Insecure     bool              `yaml:"insecure"` // Use insecure connection (for development)

	// Sampling configuration
	SampleRate   float64  `yaml:"sampleRate"`   // 0.0 to 1.0
	AlwaysSample []string `yaml:"alwaysSample"` // Service names to always sample
	NeverSample  []string `yaml:"neverSample"`  // Service names to never sample
}

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop disables trace export (for testing)
	ExporterTypeNoop ExporterType = "noop"
)

// NewTracingProvider builds an SDK tracer provider with the configured
// exporter. The caller owns Shutdown. The global provider is left alone.
func NewTracingProvider(config TracingConfig) (*sdktrace.TracerProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "feathers-client"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(createResource(config)),
		sdktrace.WithSampler(createSampler(config)),
	), nil
}

func createResource(config TracingConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	)
}

func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop, "":
		return noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(config TracingConfig) sdktrace.Sampler {
	if len(config.AlwaysSample) > 0 || len(config.NeverSample) > 0 {
		return &serviceSampler{
			defaultRate:  config.SampleRate,
			alwaysSample: makeStringSet(config.AlwaysSample),
			neverSample:  makeStringSet(config.NeverSample),
		}
	}

	if config.SampleRate >= 1.0 {
		return sdktrace.AlwaysSample()
	} else if config.SampleRate <= 0.0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(config.SampleRate)
}

// serviceSampler samples based on the feathers.service attribute
type serviceSampler struct {
	defaultRate  float64
	alwaysSample map[string]struct{}
	neverSample  map[string]struct{}
}

func (ss *serviceSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	var service string
	for _, attr := range params.Attributes {
		if attr.Key == attrService {
			service = attr.Value.AsString()
			break
		}
	}

	if _, ok := ss.alwaysSample[service]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.RecordAndSample}
	}
	if _, ok := ss.neverSample[service]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}

	if ss.defaultRate >= 1.0 {
		return sdktrace.SamplingResult{Decision: sdktrace.RecordAndSample}
	} else if ss.defaultRate <= 0.0 {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	return sdktrace.TraceIDRatioBased(ss.defaultRate).ShouldSample(params)
}

func (ss *serviceSampler) Description() string {
	return fmt.Sprintf("ServiceSampler{defaultRate=%.2f}", ss.defaultRate)
}

type noopExporter struct{}

func (noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (noopExporter) Shutdown(ctx context.Context) error { return nil }

func makeStringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

const (
	attrService   = attribute.Key("feathers.service")
	attrMethod    = attribute.Key("feathers.method")
	attrTransport = attribute.Key("feathers.transport")
	attrCallID    = attribute.Key("feathers.call_id")
)

// TracingSink opens a client span per call and closes it on the matching
// after record. Lifecycle events become short spans of their own.
type TracingSink struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewTracingSink creates a sink using tp. A nil tp uses a no-op provider.
func NewTracingSink(tp trace.TracerProvider) *TracingSink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &TracingSink{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[string]trace.Span),
	}
}

func (s *TracingSink) Emit(ctx context.Context, r Record) {
	switch r.Kind {
	case KindBefore:
		_, span := s.tracer.Start(ctx, fmt.Sprintf("%s %s", r.Service, r.Operation),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithTimestamp(r.Timestamp),
			trace.WithAttributes(
				attrService.String(r.Service),
				attrMethod.String(string(r.Operation)),
				attrTransport.String(r.Transport),
				attrCallID.String(r.CallID),
			),
		)
		s.mu.Lock()
		s.spans[r.CallID] = span
		s.mu.Unlock()

	case KindAfter:
		s.mu.Lock()
		span, ok := s.spans[r.CallID]
		delete(s.spans, r.CallID)
		s.mu.Unlock()
		if !ok {
			return
		}
		if r.Error != "" {
			span.SetAttributes(attribute.String("error.category", string(r.ErrorCategory)))
			span.SetStatus(codes.Error, r.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End(trace.WithTimestamp(r.Timestamp))

	case KindLifecycle:
		attrs := []attribute.KeyValue{attrTransport.String(r.Transport)}
		if r.SessionID != "" {
			attrs = append(attrs, attribute.String("feathers.sid", r.SessionID))
		}
		if r.Attempt > 0 {
			attrs = append(attrs, attribute.Int("feathers.attempt", r.Attempt))
		}
		if r.Reason != "" {
			attrs = append(attrs, attribute.String("feathers.reason", r.Reason), attribute.Bool("feathers.clean", r.Clean))
		}
		_, span := s.tracer.Start(ctx, "transport."+r.Event,
			trace.WithTimestamp(r.Timestamp),
			trace.WithAttributes(attrs...),
		)
		if r.Message != "" {
			span.SetStatus(codes.Error, r.Message)
		}
		span.End(trace.WithTimestamp(r.Timestamp))
	}
}

// Open returns the number of calls whose after record has not arrived.
func (s *TracingSink) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spans)
}
