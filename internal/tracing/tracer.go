// Package tracing wraps the OpenTelemetry trace SDK with the gateway's
// span-naming convention and W3C traceparent propagation, mirroring the
// teacher's internal/otel/tracer.go (Config shape, sampler selection,
// global singleton, Noop fallback) generalized to the gateway's HTTP/IPC
// span tree.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType selects the trace exporter backend.
type ExporterType int

const (
	ExporterNone ExporterType = iota
	ExporterStdout
	ExporterOTLPGRPC
	ExporterOTLPHTTP
)

// Config controls Tracer construction.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRatio    float64 // used only when > 0 and < 1; else AlwaysSample
}

// Tracer wraps a trace.TracerProvider plus the one Tracer instance the
// gateway uses throughout its span tree.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

var (
	globalMu     sync.RWMutex
	globalTracer *Tracer
)

// SetGlobal installs t as the process-wide Tracer.
func SetGlobal(t *Tracer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracer = t
}

// Global returns the process-wide Tracer, or a no-op Tracer if none was set.
func Global() *Tracer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalTracer == nil {
		return Noop()
	}
	return globalTracer
}

// Noop returns a Tracer backed by the OTel no-op provider; spans it starts
// are cheap no-ops, matching the teacher's NoopTracer/NoopMetrics fallback
// pattern used when tracing is disabled.
func Noop() *Tracer {
	return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("noop"), enabled: false}
}

// New builds a Tracer per cfg. When cfg.Enabled is false, it returns a
// no-op Tracer so callers never need to branch on "is tracing on".
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	exp, err := createSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}
	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler),
	)
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer("github.com/beamline/gateway"),
		enabled:  true,
	}, nil
}

func createSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New()
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return stdouttrace.New()
	}
}

// Shutdown flushes and stops the trace exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// SpanKind mirrors spec.md §3.9's kind enum onto the OTel kind values.
type SpanKind = trace.SpanKind

const (
	KindInternal = trace.SpanKindInternal
	KindServer   = trace.SpanKindServer
	KindClient   = trace.SpanKindClient
	KindProducer = trace.SpanKindProducer
	KindConsumer = trace.SpanKindConsumer
)

// StartSpan starts a span named name as a child of the span in ctx, or as
// a new root span tree if ctx carries none.
func (t *Tracer) StartSpan(ctx context.Context, name string, kind SpanKind) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind))
}

// RecordError marks span as errored, with the gateway error taxonomy
// attached as attributes, mirroring the teacher's RecordError helper.
func RecordError(span trace.Span, err error, errorType string, retryable bool) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attrString("error.type", errorType),
		attrBool("error.retryable", retryable),
	)
	span.SetStatus(codeError, err.Error())
}
