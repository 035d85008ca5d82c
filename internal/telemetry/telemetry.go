package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/jordanhubbard/arcfork"

// Span attribute keys.
const (
	AttrPersona = attribute.Key("arcfork.persona")
	AttrVersion = attribute.Key("arcfork.persona.version")
	AttrAction  = attribute.Key("arcfork.action")
)

var (
	// Tracer is a no-op until Init installs an exporter.
	Tracer trace.Tracer = otel.Tracer(instrumentationName)

	meter = otel.Meter(instrumentationName)

	// ActionDuration is the wall time of each tick, by action.
	ActionDuration metric.Float64Histogram
)

func init() {
	// Instruments from the global meter delegate once a provider is set.
	ActionDuration, _ = meter.Float64Histogram(
		"arcfork.tick.duration",
		metric.WithDescription("Tick duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

// Config selects where spans go.
type Config struct {
	Endpoint    string  // OTLP gRPC collector; empty disables export
	ServiceName string
	Version     string
	Persona     string
	SampleRatio float64 // 0 or >=1 samples everything
}

// Shutdown flushes and stops the trace pipeline.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Init installs an OTLP/gRPC trace exporter for cfg.
func Init(ctx context.Context, cfg Config, logger *zap.Logger) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return noopShutdown, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	}
	if cfg.Persona != "" {
		attrs = append(attrs, AttrPersona.String(cfg.Persona))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = tp.Tracer(instrumentationName)

	logger.Info("exporting traces",
		zap.String("endpoint", cfg.Endpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio))

	return func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(flushCtx)
	}, nil
}

// StartTick opens the span covering one loop iteration.
func StartTick(ctx context.Context, action, persona string, version int) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "loop."+action, trace.WithAttributes(
		AttrAction.String(action),
		AttrPersona.String(persona),
		AttrVersion.Int(version),
	))
}

// RecordTick adds one tick to ActionDuration.
func RecordTick(ctx context.Context, action string, elapsed time.Duration) {
	if ActionDuration == nil {
		return
	}
	ActionDuration.Record(ctx, float64(elapsed.Milliseconds()),
		metric.WithAttributes(AttrAction.String(action)))
}
