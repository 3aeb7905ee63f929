// Package tracing installs an OpenTelemetry provider that writes spans with
// the stdout exporter. Without Init the global provider is a no-op.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init registers a global tracer provider writing to outputFile, or stderr
// when outputFile is empty. The returned func flushes and closes it.
func Init(ctx context.Context, serviceName, serviceVersion, outputFile string) (func(context.Context) error, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	return Install(ctx, serviceName, serviceVersion, exporter, closer)
}

// Install registers exporter as the global span exporter. closer, when not
// nil, is closed by the returned shutdown func or right away if Install fails.
// Extra resource options are applied after the service attributes.
func Install(ctx context.Context, serviceName, serviceVersion string, exporter sdktrace.SpanExporter, closer io.Closer, extra ...resource.Option) (func(context.Context) error, error) {
	opts := append([]resource.Option{
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	}, extra...)
	res, err := resource.New(ctx, opts...)
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			if cerr := closer.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
