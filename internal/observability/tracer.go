// Package observability provides OpenTelemetry tracing for estiguard.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer initializes the OTLP trace exporter and registers the global
// tracer provider. The caller owns shutdown.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(0.1),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the global tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("estiguard")
}

// CompletionAttributes annotates a dispatch span.
func CompletionAttributes(endpoint, userID, model string, promptTokens, completionTokens int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("endpoint.class", endpoint),
		attribute.String("user.id", userID),
		attribute.String("model", model),
		attribute.Int64("prompt.tokens", promptTokens),
		attribute.Int64("completion.tokens", completionTokens),
	}
}
