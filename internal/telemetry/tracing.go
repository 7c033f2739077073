package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/healthdash-io/healthdash/internal/config"
)

const (
	defaultServiceName = "healthdash-ingester"
	defaultSampleRatio = 0.1
	batchTimeout       = 5 * time.Second
)

// ErrInvalidSampleRatio is returned when OTEL_SAMPLER_RATIO is outside [0, 1].
var ErrInvalidSampleRatio = errors.New("sample ratio must be between 0 and 1")

type (
	// TracingConfig holds OpenTelemetry tracing settings.
	TracingConfig struct {
		Enabled      bool
		ServiceName  string
		Version      string
		Environment  string
		SampleRatio  float64
		OTLPEndpoint string
		OTLPInsecure bool
	}

	// ShutdownFunc flushes and stops the tracer provider.
	ShutdownFunc func(context.Context) error
)

// LoadTracingConfig loads tracing settings from environment variables.
//
// Environment variables:
//   - OTEL_ENABLED: Install an SDK tracer provider (default: false)
//   - OTEL_SERVICE_NAME: Service name resource attribute (default: healthdash-ingester)
//   - OTEL_SAMPLER_RATIO: Parent-based trace id ratio (default: 0.1)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP/HTTP collector; spans go to stdout when unset
//   - OTEL_EXPORTER_OTLP_INSECURE: Use plain HTTP for the collector (default: false)
//   - ENVIRONMENT: deployment.environment attribute
func LoadTracingConfig(version string) *TracingConfig {
	return &TracingConfig{
		Enabled:      config.GetEnvBool("OTEL_ENABLED", false),
		ServiceName:  config.GetEnvStr("OTEL_SERVICE_NAME", defaultServiceName),
		Version:      version,
		Environment:  config.GetEnvStr("ENVIRONMENT", "development"),
		SampleRatio:  config.GetEnvFloat64("OTEL_SAMPLER_RATIO", defaultSampleRatio),
		OTLPEndpoint: strings.TrimSpace(config.GetEnvStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		OTLPInsecure: config.GetEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

// Validate checks the tracing settings.
func (c *TracingConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.SampleRatio)
	}

	return nil
}

// InitTracing installs a global tracer provider and propagator.
// When tracing is disabled it leaves the no-op global provider in place and returns a no-op shutdown.
func InitTracing(ctx context.Context, cfg *TracingConfig, logger *slog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp, err := NewTracerProvider(ctx, cfg, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)))
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if logger != nil {
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "stdout"
		}

		logger.Info("OpenTelemetry tracing initialized",
			slog.String("service", cfg.ServiceName),
			slog.String("exporter", endpoint),
			slog.Float64("sample_ratio", cfg.SampleRatio))
	}

	return tp.Shutdown, nil
}

// NewTracerProvider builds a tracer provider with the service resource and a parent-based ratio sampler.
// Span processors are passed in opts.
func NewTracerProvider(
	ctx context.Context,
	cfg *TracingConfig,
	opts ...sdktrace.TracerProviderOption,
) (*sdktrace.TracerProvider, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	}, opts...)

	return sdktrace.NewTracerProvider(opts...), nil
}

func newExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.OTLPEndpoint == "" {
		return stdouttrace.New()
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	return otlptracehttp.New(ctx, opts...)
}
