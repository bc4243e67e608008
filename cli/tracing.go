package cli

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/petal-labs/arbor"

// setupTracing exports spans over OTLP/HTTP to endpoint. An endpoint with a
// scheme is used as a full URL; a bare host:port is sent plain-text.
func setupTracing(ctx context.Context, endpoint string) (trace.Tracer, func(context.Context) error, error) {
	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating otlp exporter: %w", err)
	}
	tp := newTracerProvider(sdktrace.WithBatcher(exporter))
	return tp.Tracer(tracerName), tp.Shutdown, nil
}

func newTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append(opts, sdktrace.WithResource(resource.NewSchemaless(
		attribute.String("service.name", "arbor"),
	)))
	return sdktrace.NewTracerProvider(opts...)
}
