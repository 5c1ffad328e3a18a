// Package telemetry wires OpenTelemetry tracing for the questboard service.
package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	EnvEndpoint = "QUESTBOARD_OTEL_ENDPOINT"
	EnvEnabled  = "QUESTBOARD_OTEL_ENABLED"
)

type Options struct {
	ServiceName string
	// Endpoint is an OTLP/HTTP collector URL such as http://localhost:4318.
	Endpoint string
	Disabled bool
}

// OptionsFromEnv fills the endpoint and the kill switch from the environment,
// keeping fallback when the endpoint variable is unset.
func OptionsFromEnv(serviceName, fallback string) Options {
	opts := Options{ServiceName: serviceName, Endpoint: fallback}
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		opts.Endpoint = v
	}
	if strings.EqualFold(os.Getenv(EnvEnabled), "false") {
		opts.Disabled = true
	}
	return opts
}

// Setup installs a global tracer provider exporting to opts.Endpoint.
//
// Tracing is opt-in: with no endpoint, or when disabled, Setup returns a
// no-op shutdown and leaves the global provider alone. The returned shutdown
// flushes pending spans and should be deferred by the caller.
func Setup(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if opts.Disabled || opts.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return noop, err
	}
	name := opts.ServiceName
	if name == "" {
		name = "questboard"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
