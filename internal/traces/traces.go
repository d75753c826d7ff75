// Package traces wires OpenTelemetry into the scoring pipeline. Spans cover
// the Horizon snapshot, the scoring run and each persistence operation.
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

const tracerName = "github.com/rivora/rivora"

// ServiceVersion is reported as service.version on every span.
var ServiceVersion = "dev"

// Init installs a batching OTLP/gRPC tracer provider. With an empty endpoint
// the global no-op provider stays in place. The returned func flushes and
// stops the exporter.
func Init(ctx context.Context, otlpEndpoint string, logger *slog.Logger) (func(context.Context) error, error) {
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
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("rivora"),
		semconv.ServiceVersion(ServiceVersion),
	))
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

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func WalletAddr(addr string) attribute.KeyValue {
	return attribute.String("stellar.account", addr)
}

func Strategy(kind string) attribute.KeyValue {
	return attribute.String("persistence.strategy", kind)
}

func Network(name string) attribute.KeyValue {
	return attribute.String("stellar.network", name)
}

// Method is the score method, "model" or "rule".
func Method(method string) attribute.KeyValue {
	return attribute.String("score.method", method)
}

func TxHash(hash string) attribute.KeyValue {
	return attribute.String("stellar.tx_hash", hash)
}
