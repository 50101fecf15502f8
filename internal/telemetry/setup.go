// Package telemetry installs the OpenTelemetry tracer provider shared by the
// harness binaries.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/acme/voice-load-test/internal/config"
)

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// Setup installs a batching OTLP/HTTP tracer provider for one harness binary,
// named "<app>-<component>". With tracing disabled nothing is installed and
// the returned ShutdownFunc does nothing.
func Setup(ctx context.Context, cfg config.TelemetryConfig, app config.AppConfig, component string) (ShutdownFunc, error) {
	if !cfg.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(cfg, app, component)...))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func serviceAttributes(cfg config.TelemetryConfig, app config.AppConfig, component string) []attribute.KeyValue {
	name := app.Name
	if component != "" {
		name += "-" + component
	}
	version := cfg.ServiceVersion
	if version == "" {
		version = app.Version
	}
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(version),
	}
	if app.Env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(app.Env))
	}
	return attrs
}

// sampleRatio falls back to sampling everything when the ratio is unusable.
func sampleRatio(ratio float64) float64 {
	if ratio <= 0 || ratio > 1 {
		return 1
	}
	return ratio
}
