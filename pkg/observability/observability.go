// Package observability owns the telemetry pipelines: an OpenTelemetry
// tracer provider exporting over OTLP gRPC or stdout, and a meter provider
// bridged into a private Prometheus registry served on /metrics. Everything
// degrades to a no-op when disabled, so callers wire tracers and the
// Recorder unconditionally.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/iron-manus/jarvis/pkg/config"
)

const serviceName = "jarvis"

// Span names shared by the middleware and the fetch transport.
const (
	SpanHTTPRequest = "http.request"
	SpanFetch       = "http.fetch"
)

// Manager builds and owns the exporters. A Manager that was never started,
// or whose config disables everything, hands out noop tracers and a
// Recorder that drops every measurement.
type Manager struct {
	cfg     config.ObservabilityConfig
	version string

	tracerProvider trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	recorder       *Recorder
}

// New creates an unstarted Manager.
func New(cfg config.ObservabilityConfig, version string) *Manager {
	return &Manager{
		cfg:            cfg,
		version:        version,
		tracerProvider: noop.NewTracerProvider(),
		recorder:       &Recorder{},
	}
}

// Start builds the configured exporters. Call once, before the Manager is
// shared.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.startTracing(ctx); err != nil {
		return err
	}
	return m.startMetrics()
}

func (m *Manager) startTracing(ctx context.Context) error {
	if !m.cfg.TracingEnabled || m.cfg.TracingExporter == config.TracingExporterNone {
		return nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch m.cfg.TracingExporter {
	case config.TracingExporterOTLP:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(m.cfg.TracingEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	case config.TracingExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return fmt.Errorf("unknown tracing exporter %q", m.cfg.TracingExporter)
	}
	if err != nil {
		return fmt.Errorf("creating %s trace exporter: %w", m.cfg.TracingExporter, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(m.version),
	))
	if err != nil {
		return fmt.Errorf("creating trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(m.cfg.TracingSampleRate)),
		sdktrace.WithResource(res),
	)
	m.tracerProvider = tp
	otel.SetTracerProvider(tp)

	slog.Info("Tracing started",
		"exporter", m.cfg.TracingExporter,
		"endpoint", m.cfg.TracingEndpoint,
		"sample_rate", m.cfg.TracingSampleRate)
	return nil
}

func (m *Manager) startMetrics() error {
	if !m.cfg.MetricsEnabled {
		return nil
	}

	m.registry = prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(m.registry))
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %w", err)
	}
	m.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	rec, err := newRecorder(m.meterProvider.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("creating instruments: %w", err)
	}
	m.recorder = rec

	slog.Info("Metrics enabled")
	return nil
}

// Tracer returns a named tracer from the active provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	return m.tracerProvider.Tracer(name)
}

// Recorder returns the metrics sink. Never nil.
func (m *Manager) Recorder() *Recorder {
	return m.recorder
}

// MetricsHandler serves the Prometheus scrape endpoint. When metrics are
// disabled it answers 404 so probes can tell the difference from an empty
// registry.
func (m *Manager) MetricsHandler() http.Handler {
	if m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if tp, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, tp.Shutdown(ctx))
	}
	if m.meterProvider != nil {
		errs = append(errs, m.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
