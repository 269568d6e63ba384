// Package tracing wires optional OpenTelemetry spans around backend
// calls (§4.K). Tracing is inert unless OTEL_EXPORTER_OTLP_ENDPOINT is
// set, so a deployment with no collector pays no cost for it.
package tracing

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceVersion = "0.1.0"

var initOnce sync.Once

// Init configures the global tracer provider when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, returning a shutdown func to flush
// and close the exporter on process exit. With no endpoint configured it
// returns a no-op shutdown.
func Init(ctx context.Context) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	var shutdown func(context.Context) error
	var initErr error
	initOnce.Do(func() {
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			initErr = err
			return
		}

		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceName("gcli2api-go"),
			attribute.String("service.version", serviceVersion),
		))
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
	})

	if initErr != nil {
		return nil, initErr
	}
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return shutdown, nil
}

// Tracer returns a named tracer for a component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(component)
}

// StartSpan starts a span named spanName under component's tracer.
func StartSpan(ctx context.Context, component, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(component).Start(ctx, spanName, opts...)
}
