// Package otelhelper wires OpenTelemetry tracing for the stepflow services.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	WorkflowIDKey     = "stepflow.workflow.id"
	WorkflowStatusKey = "stepflow.workflow.status"
	OrganizationIDKey = "stepflow.organization.id"
	StepIDKey         = "stepflow.step.id"
	StepCountKey      = "stepflow.step.count"
	ActionCountKey    = "stepflow.action.count"
	ExecutionIDKey    = "stepflow.execution.id"
	ContactIDKey      = "stepflow.contact.id"
	AnalyticsDaysKey  = "stepflow.analytics.days"
	CacheHitKey       = "stepflow.cache.hit"
)

// TracerName is the instrumentation scope used by every stepflow package.
const TracerName = "github.com/dukex/stepflow"

// NewTracerProvider installs an OTLP/HTTP exporting provider as the global
// provider. Exporter settings come from the standard OTEL_EXPORTER_OTLP_* variables.
func NewTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// Tracer returns the stepflow tracer from the global provider. It is a no-op
// until NewTracerProvider has run.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
