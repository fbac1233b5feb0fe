package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Trace exporters
const (
	ExporterNone   = ""
	ExporterStdout = "stdout"
)

// Shutdown flushes and stops the tracer provider
type Shutdown func(ctx context.Context) error

type config struct {
	writer  io.Writer
	version string
}

type Option func(*config)

// WithWriter sets the destination of the stdout exporter. Default is stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

func WithVersion(v string) Option {
	return func(c *config) {
		c.version = v
	}
}

// Setup installs a global tracer provider for the named exporter. With
// ExporterNone the global no-op provider is kept.
func Setup(ctx context.Context, serviceName, exporter string, opts ...Option) (Shutdown, error) {
	cfg := &config{writer: os.Stderr, version: "dev"}
	for _, opt := range opts {
		opt(cfg)
	}

	switch exporter {
	case ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, goerr.New("unsupported trace exporter", goerr.V("exporter", exporter))
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.writer))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create stdout trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.version),
		),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create trace resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
