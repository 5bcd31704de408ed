package obsmetrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ExporterType selects which OTLP/stdout exporter mirrors registry
// observations, matching the teacher's internal/otel/metrics.go enum.
type ExporterType int

const (
	ExporterNone ExporterType = iota
	ExporterStdout
	ExporterOTLPGRPC
	ExporterOTLPHTTP
)

// OTelConfig configures the optional OTel metrics mirror.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
}

type otelBridge struct {
	mu         sync.Mutex
	provider   *sdkmetric.MeterProvider
	meter      metric.Meter
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// EnableOTel wires an OpenTelemetry meter provider into the registry so
// every Inc/SetGauge/Observe call is mirrored as an OTel instrument
// recording, in addition to being visible via Expose(). Grounded on the
// teacher's registerInstruments/createExporter pattern.
func (r *Registry) EnableOTel(ctx context.Context, cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	exp, err := createMetricExporter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("obsmetrics: create exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return fmt.Errorf("obsmetrics: merge resource: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter("github.com/beamline/gateway/internal/obsmetrics")
	bridge := &otelBridge{
		provider:   provider,
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		def := r.defs[name]
		switch def.kind {
		case kindCounter:
			c, err := meter.Float64Counter(name, metric.WithDescription(def.help))
			if err == nil {
				bridge.counters[name] = c
			}
		case kindGauge:
			g, err := meter.Float64Gauge(name, metric.WithDescription(def.help))
			if err == nil {
				bridge.gauges[name] = g
			}
		case kindHistogram:
			h, err := meter.Float64Histogram(name,
				metric.WithDescription(def.help),
				metric.WithExplicitBucketBoundaries(def.buckets...))
			if err == nil {
				bridge.histograms[name] = h
			}
		}
	}
	r.otel = bridge
	return nil
}

// Shutdown flushes and stops the OTel meter provider, if one was enabled.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	b := r.otel
	r.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.provider.Shutdown(ctx)
}

func createMetricExporter(ctx context.Context, cfg OTelConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return stdoutmetric.New()
	}
}

func toOtelAttrs(labels [][2]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(labels))
	for i, l := range labels {
		out[i] = attribute.String(l[0], l[1])
	}
	return out
}

func (b *otelBridge) addCounter(name string, delta float64, labels [][2]string) {
	c, ok := b.counters[name]
	if !ok {
		return
	}
	c.Add(context.Background(), delta, metric.WithAttributes(toOtelAttrs(labels)...))
}

func (b *otelBridge) recordGauge(name string, value float64, labels [][2]string) {
	g, ok := b.gauges[name]
	if !ok {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(toOtelAttrs(labels)...))
}

func (b *otelBridge) recordHistogram(name string, value float64, labels [][2]string) {
	h, ok := b.histograms[name]
	if !ok {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toOtelAttrs(labels)...))
}
