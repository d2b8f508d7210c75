// Package telemetry configures OpenTelemetry tracing for the analyzer.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/defect-analyzer/internal/config"
)

// InstrumentationName names the tracer used across the service.
const InstrumentationName = "github.com/miradorstack/defect-analyzer"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Tracer returns the service tracer from the global provider. It is a no-op
// tracer until Setup installs an SDK provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Setup installs a global tracer provider exporting spans as JSON to w.
// When tracing is disabled it leaves the no-op provider in place.
func Setup(cfg config.TracingConfig, version string, w io.Writer, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		slog.String("service", cfg.ServiceName),
		slog.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}
