package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics sink
type MetricsConfig struct {
	// Metric options
	Namespace        string    // Prometheus namespace (default: feathers_client)
	Subsystem        string    // Prometheus subsystem
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels

	// Registerer defaults to a private registry so several clients can live
	// in one process.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// MetricsSink turns records into Prometheus metrics.
type MetricsSink struct {
	config MetricsConfig

	callDuration    *prometheus.HistogramVec
	callTotal       *prometheus.CounterVec
	lifecycleTotal  *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	reconnectCount  *prometheus.GaugeVec
	frameTotal      *prometheus.CounterVec
	placeholders    prometheus.Counter
}

// NewMetricsSink creates the collectors and registers them.
func NewMetricsSink(config MetricsConfig) (*MetricsSink, error) {
	if config.Namespace == "" {
		config.Namespace = "feathers_client"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}
	if config.Registerer == nil {
		reg := prometheus.NewRegistry()
		config.Registerer = reg
		config.Gatherer = reg
	}

	s := &MetricsSink{config: config}
	s.initializeMetrics()

	if err := s.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return s, nil
}

func (s *MetricsSink) initializeMetrics() {
	c := s.config

	s.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "call_duration_milliseconds",
			Help:        "Duration of service calls in milliseconds",
			Buckets:     c.HistogramBuckets,
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport", "service", "method", "status"},
	)

	s.callTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "call_total",
			Help:        "Total number of completed service calls",
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport", "service", "method", "status"},
	)

	s.lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "transport_events_total",
			Help:        "Transport lifecycle events by name",
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport", "event"},
	)

	s.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "connection_state",
			Help:        "Current connection state (1 for the active state)",
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport", "state"},
	)

	s.reconnectCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "reconnect_attempt",
			Help:        "Reconnect attempt number of the current outage",
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport"},
	)

	s.frameTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "frames_total",
			Help:        "Raw socket frames by direction",
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport", "direction"},
	)

	s.placeholders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "payload_placeholders_total",
			Help:        "Records whose payload could not be serialized",
			ConstLabels: c.ConstLabels,
		},
	)
}

func (s *MetricsSink) registerMetrics() error {
	collectors := []prometheus.Collector{
		s.callDuration,
		s.callTotal,
		s.lifecycleTotal,
		s.connectionState,
		s.reconnectCount,
		s.frameTotal,
		s.placeholders,
	}

	for _, collector := range collectors {
		if err := s.config.Registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (s *MetricsSink) Emit(_ context.Context, r Record) {
	if r.Placeholder {
		s.placeholders.Inc()
	}

	switch r.Kind {
	case KindAfter:
		status := "ok"
		if r.Error != "" {
			status = string(r.ErrorCategory)
		}
		labels := []string{r.Transport, r.Service, string(r.Operation), status}
		s.callTotal.WithLabelValues(labels...).Inc()
		s.callDuration.WithLabelValues(labels...).Observe(float64(r.Duration.Milliseconds()))

	case KindLifecycle:
		s.lifecycleTotal.WithLabelValues(r.Transport, r.Event).Inc()
		switch r.Event {
		case EventConnect, EventReconnect:
			s.recordConnectionState(r.Transport, "connected")
			s.reconnectCount.WithLabelValues(r.Transport).Set(0)
		case EventDisconnect:
			s.recordConnectionState(r.Transport, "disconnected")
		case EventReconnectAttempt:
			s.recordConnectionState(r.Transport, "connecting")
			s.reconnectCount.WithLabelValues(r.Transport).Set(float64(r.Attempt))
		case EventReconnectFailed:
			s.recordConnectionState(r.Transport, "failed")
		}

	case KindFrame:
		s.frameTotal.WithLabelValues(r.Transport, string(r.Direction)).Inc()
	}
}

var connectionStates = []string{"connected", "disconnected", "connecting", "failed"}

func (s *MetricsSink) recordConnectionState(transport, state string) {
	for _, st := range connectionStates {
		s.connectionState.WithLabelValues(transport, st).Set(0)
	}
	s.connectionState.WithLabelValues(transport, state).Set(1)
}

// Handler serves the sink's registry in the Prometheus text format.
func (s *MetricsSink) Handler() http.Handler {
	if s.config.Gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})
}
