package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Telemetry holds the meter, tracer and fetch instruments.
// A nil or disabled Telemetry records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	registry       *prom.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	fetchesTotal    metric.Int64Counter
	fetchDuration   metric.Float64Histogram
	transfersActive metric.Int64UpDownCounter
	transferBytes   metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Logger receives finished spans at debug level. Nil drops them.
	Logger *zap.Logger
}

// New creates a telemetry instance backed by a private Prometheus registry.
func New(cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fetchcache"
	}
	if !cfg.Enabled {
		return &Telemetry{tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	registry := prom.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(&spanLogger{logger: logger}),
	)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		registry:       registry,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("fetchcache")
	}
	return t.tracer
}

// MeterProvider returns the private meter provider for instrumentation
// libraries. Disabled telemetry hands out a no-op provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t == nil || t.meterProvider == nil {
		return metricnoop.NewMeterProvider()
	}
	return t.meterProvider
}

// TracerProvider returns the tracer provider for instrumentation libraries
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t == nil || t.tracerProvider == nil {
		return tracenoop.NewTracerProvider()
	}
	return t.tracerProvider
}

// RecordFetch records one finished fetch by outcome.
func (t *Telemetry) RecordFetch(ctx context.Context, outcome string, duration time.Duration) {
	if t == nil || t.fetchesTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	t.fetchesTotal.Add(ctx, 1, attrs)
	t.fetchDuration.Record(ctx, duration.Seconds(), attrs)
}

// TransferStarted increments the active transfers gauge.
func (t *Telemetry) TransferStarted(ctx context.Context, resumed bool) {
	if t == nil || t.transfersActive == nil {
		return
	}
	t.transfersActive.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resume", resumed)))
}

// TransferFinished decrements the active transfers gauge and counts bytes.
func (t *Telemetry) TransferFinished(ctx context.Context, resumed bool, bytes int64) {
	if t == nil || t.transfersActive == nil {
		return
	}
	t.transfersActive.Add(ctx, -1, metric.WithAttributes(attribute.Bool("resume", resumed)))
	if bytes > 0 {
		t.transferBytes.Add(ctx, bytes)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	return errors.Join(
		t.tracerProvider.Shutdown(ctx),
		t.meterProvider.Shutdown(ctx),
	)
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	t.fetchesTotal, err = t.meter.Int64Counter(
		"fetch_total",
		metric.WithDescription("Total number of finished fetches"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_total counter: %w", err)
	}

	t.fetchDuration, err = t.meter.Float64Histogram(
		"fetch_duration_seconds",
		metric.WithDescription("Fetch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_duration histogram: %w", err)
	}

	t.transfersActive, err = t.meter.Int64UpDownCounter(
		"transfers_active",
		metric.WithDescription("Number of transfers currently running"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers_active counter: %w", err)
	}

	t.transferBytes, err = t.meter.Int64Counter(
		"transfer_bytes",
		metric.WithDescription("Bytes staged by transfers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer_bytes counter: %w", err)
	}

	return nil
}
