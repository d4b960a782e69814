package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/terrainview/internal/logging"
)

const instrumentationName = "github.com/signalsfoundry/terrainview"

// Exporters accepted by TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig governs how tracing is initialised. It is filled from the
// environment by internal/config.
type TracingConfig struct {
	Enabled     bool          `envconfig:"ENABLED" default:"false"`
	ServiceName string        `envconfig:"SERVICE_NAME" default:"terrainview"`
	Exporter    string        `envconfig:"EXPORTER" default:"stdout"`
	Endpoint    string        `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure    bool          `envconfig:"OTLP_INSECURE" default:"true"`
	Timeout     time.Duration `envconfig:"OTLP_TIMEOUT" default:"10s"`
	SampleRatio float64       `envconfig:"SAMPLE_RATIO" default:"1"`

	// Output receives stdout-exporter spans; os.Stderr when nil so that
	// command output on stdout stays clean.
	Output io.Writer `ignored:"true"`
}

// InitTracing installs the global tracer provider described by cfg and
// returns the function that flushes and stops it. With tracing disabled a
// noop provider is installed and the shutdown func does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	sampler, err := samplerFor(cfg.SampleRatio)
	if err != nil {
		return nil, err
	}
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(cfg.ServiceName)...))
	if err != nil {
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio))
	return tp.Shutdown, nil
}

func samplerFor(ratio float64) (sdktrace.Sampler, error) {
	switch {
	case ratio < 0 || ratio > 1:
		return nil, fmt.Errorf("tracing sample ratio %v outside [0,1]", ratio)
	case ratio == 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case ratio == 0:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	}
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case ExporterOTLP, "otlpgrpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter for %s: %w", cfg.Endpoint, err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

func serviceAttributes(name string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", name),
		attribute.String("service.namespace", "terrainview"),
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		attrs = append(attrs, attribute.String("service.version", info.Main.Version))
	}
	return attrs
}

// StartSpan starts a span on the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// ShutdownWithTimeout flushes pending spans, giving up after five seconds.
// Failures are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
