// Package otel exports run spans over OTLP/HTTP when SCRIBE_OTEL_ENABLED and
// SCRIBE_OTEL_ENDPOINT are both set.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options describe one scribe run. RunID, JobPath and Provider end up on the
// resource so every span of a run can be found from its summary line.
type Options struct {
	Endpoint string
	Enabled  bool
	Version  string
	RunID    string
	JobPath  string
	Provider string
}

// Setup registers a global tracer provider for the run and returns its
// shutdown, which flushes pending spans. Without an endpoint it registers
// nothing and the shutdown is a no-op.
func Setup(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled || opts.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(runAttributes(opts)...))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

func runAttributes(opts Options) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName("scribe")}
	if opts.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(opts.Version))
	}
	for k, v := range map[string]string{
		"scribe.run_id":   opts.RunID,
		"scribe.job":      opts.JobPath,
		"scribe.provider": opts.Provider,
	} {
		if v != "" {
			attrs = append(attrs, attribute.String(k, v))
		}
	}
	return attrs
}
