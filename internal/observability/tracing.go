package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/1thirteeng3/rlm/internal/config"
)

// Span attribute keys shared by the orchestrator and the gateways, so every
// span of one run carries the same identifiers.
const (
	AttrRunID     = attribute.Key("rlm.run_id")
	AttrIteration = attribute.Key("rlm.iteration")
	AttrProvider  = attribute.Key("rlm.llm.provider")
)

// TracerSetup owns the tracer provider for one process. It is injected where
// needed, never installed as the OTel global.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup wires an OTLP span exporter from the tracing section of the
// configuration. Returns (nil, nil) when tracing is off; a nil setup still
// hands out a usable no-op tracer, so callers never branch on it.
func NewTracerSetup(cfg *config.TracingConfig) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	exporter, err := newSpanExporter(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "rlm"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(name),
	))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		// Honor an upstream sampling decision; ratio-sample only the roots
		// this process starts.
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	return &TracerSetup{
		provider: provider,
		tracer:   provider.Tracer(name),
	}, nil
}

// newSpanExporter builds the OTLP exporter for the configured protocol.
func newSpanExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case "grpc", "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown tracing protocol %q (use grpc or http)", cfg.Protocol)
	}
}

// Tracer returns the process tracer. On a nil setup it returns a no-op
// tracer, so spans can be started unconditionally.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("rlm")
	}
	return t.tracer
}

// Shutdown flushes pending spans, bounded so a dead collector cannot hang
// process exit.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}
