// Package traces provides OpenTelemetry tracing for repscore.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/repscore"

// Init installs a batching OTLP/gRPC tracer provider. An empty endpoint
// leaves the global no-op provider in place. The returned function flushes
// and shuts the provider down.
func Init(ctx context.Context, otlpEndpoint, version string, logger *slog.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("repscore"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint)
	return tp.Shutdown, nil
}

// StartSpan starts a span named name under ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// End records err on span (if any) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func User(addr string) attribute.KeyValue {
	return attribute.String("user.addr", addr)
}

func Caller(addr string) attribute.KeyValue {
	return attribute.String("caller.addr", addr)
}

func ActivityType(name string) attribute.KeyValue {
	return attribute.String("activity.type", name)
}

func ActivityID(id uint64) attribute.KeyValue {
	return attribute.Int64("activity.id", int64(id))
}

func Score(score uint64) attribute.KeyValue {
	return attribute.Int64("reputation.score", int64(score))
}

func RiskLevel(level uint64) attribute.KeyValue {
	return attribute.Int64("risk.level", int64(level))
}

func Timestamp(ts uint64) attribute.KeyValue {
	return attribute.Int64("clock.now", int64(ts))
}
