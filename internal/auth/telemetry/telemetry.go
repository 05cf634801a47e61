// Package telemetry sets up the service's OpenTelemetry providers: metrics
// exported in Prometheus format on /metrics, and tracing to an optional
// exporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Trace exporters understood by Config.TraceExporter.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// Config configures New.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter is "none" (default) or "stdout".
	TraceExporter string

	// TraceWriter receives stdout spans; defaults to os.Stdout.
	TraceWriter io.Writer
}

// Telemetry owns the meter and tracer providers for one process.
type Telemetry struct {
	registry       *promclient.Registry
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	serviceName    string
}

// New builds the providers. Nothing is registered globally; components get
// their meter and tracer from the returned Telemetry.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("telemetry: service name is required")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
	}

	t := &Telemetry{
		registry: registry,
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		),
		serviceName: cfg.ServiceName,
	}

	switch cfg.TraceExporter {
	case "", TraceExporterNone:
		t.tracer = tracenoop.NewTracerProvider().Tracer(cfg.ServiceName)
	case TraceExporterStdout:
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stdout
		}
		spans, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(spans),
		)
		t.tracer = t.tracerProvider.Tracer(cfg.ServiceName)
	default:
		return nil, fmt.Errorf("telemetry: unknown trace exporter %q", cfg.TraceExporter)
	}

	return t, nil
}

// Meter returns the service meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meterProvider.Meter(t.serviceName)
}

// Tracer returns the service tracer. It is a no-op tracer when tracing is
// disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if err := t.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
	}

	return errors.Join(errs...)
}
