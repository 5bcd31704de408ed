// Package obsmetrics implements the gateway's Prometheus-style metrics
// registry: counters, gauges, and histograms with text exposition. After
// Registry.EnableOTel the same observations are also mirrored to an
// OpenTelemetry meter for an OTLP metrics exporter; until then they are not.
//
// Grounded on the teacher's internal/metrics/prometheus.go (composite-key
// collector, sorted-key exposition) fused with internal/otel/metrics.go
// (instrument registration and exporter selection).
package obsmetrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultDurationBuckets are the default histogram bucket upper bounds in
// seconds, per SPEC_FULL.md/spec.md §4.9.2.
var DefaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

type sample struct {
	labels string // pre-joined "k1=v1,k2=v2" sorted by key, used as map key
	labelPairs [][2]string
	value  float64
}

type histogramSample struct {
	labels     string
	labelPairs [][2]string
	buckets    []float64 // upper bounds, ascending
	counts     []uint64  // cumulative counts per bucket, plus +Inf in counts[len(buckets)]
	sum        float64
	count      uint64
}

type metricDef struct {
	name    string
	help    string
	kind    metricKind
	buckets []float64 // histogram only
}

// Registry is a thread-safe collection of counters, gauges and histograms,
// keyed by metric name then by label set.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]*metricDef
	order      []string // registration order, for deterministic HELP/TYPE emission
	counters   map[string]map[string]*sample
	gauges     map[string]map[string]*sample
	histograms map[string]map[string]*histogramSample

	otel *otelBridge // nil when tracing/OTel metrics export is disabled
}

// New builds an empty Registry. Call RegisterCounter/RegisterGauge/
// RegisterHistogram during startup before any Observe/Inc call for that
// metric name.
func New() *Registry {
	return &Registry{
		defs:       make(map[string]*metricDef),
		counters:   make(map[string]map[string]*sample),
		gauges:     make(map[string]map[string]*sample),
		histograms: make(map[string]map[string]*histogramSample),
	}
}

func (r *Registry) register(d *metricDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.name]; ok {
		return
	}
	r.defs[d.name] = d
	r.order = append(r.order, d.name)
	switch d.kind {
	case kindCounter:
		r.counters[d.name] = make(map[string]*sample)
	case kindGauge:
		r.gauges[d.name] = make(map[string]*sample)
	case kindHistogram:
		r.histograms[d.name] = make(map[string]*histogramSample)
	}
}

// RegisterCounter declares a monotone counter metric.
func (r *Registry) RegisterCounter(name, help string) {
	r.register(&metricDef{name: name, help: help, kind: kindCounter})
}

// RegisterGauge declares a signed gauge metric.
func (r *Registry) RegisterGauge(name, help string) {
	r.register(&metricDef{name: name, help: help, kind: kindGauge})
}

// RegisterHistogram declares a histogram metric with the given bucket
// upper bounds (a final +Inf bucket is implicit).
func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	r.register(&metricDef{name: name, help: help, kind: kindHistogram, buckets: b})
}

func labelKey(pairs [][2]string) string {
	if len(pairs) == 0 {
		return ""
	}
	sorted := append([][2]string(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][0] < sorted[j][0] })
	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

// Inc adds delta (must be >= 0) to the counter, identified by name and an
// optional set of label pairs.
func (r *Registry) Inc(name string, delta float64, labels ...[2]string) {
	if delta < 0 {
		delta = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.counters[name]
	if !ok {
		return
	}
	key := labelKey(labels)
	s, ok := m[key]
	if !ok {
		s = &sample{labels: key, labelPairs: labels}
		m[key] = s
	}
	s.value += delta
	if r.otel != nil {
		r.otel.addCounter(name, delta, labels)
	}
}

// SetGauge sets a gauge's current value.
func (r *Registry) SetGauge(name string, value float64, labels ...[2]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.gauges[name]
	if !ok {
		return
	}
	key := labelKey(labels)
	s, ok := m[key]
	if !ok {
		s = &sample{labels: key, labelPairs: labels}
		m[key] = s
	}
	s.value = value
	if r.otel != nil {
		r.otel.recordGauge(name, value, labels)
	}
}

// IncGauge adjusts a gauge by delta (may be negative).
func (r *Registry) IncGauge(name string, delta float64, labels ...[2]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.gauges[name]
	if !ok {
		return
	}
	key := labelKey(labels)
	s, ok := m[key]
	if !ok {
		s = &sample{labels: key, labelPairs: labels}
		m[key] = s
	}
	s.value += delta
	if r.otel != nil {
		r.otel.recordGauge(name, s.value, labels)
	}
}

// Observe records a histogram observation.
func (r *Registry) Observe(name string, value float64, labels ...[2]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok || def.kind != kindHistogram {
		return
	}
	m := r.histograms[name]
	key := labelKey(labels)
	hs, ok := m[key]
	if !ok {
		hs = &histogramSample{
			labels:     key,
			labelPairs: labels,
			buckets:    def.buckets,
			counts:     make([]uint64, len(def.buckets)+1),
		}
		m[key] = hs
	}
	for i, bound := range hs.buckets {
		if value <= bound {
			hs.counts[i]++
		}
	}
	hs.counts[len(hs.buckets)]++ // +Inf bucket
	hs.sum += value
	hs.count++
	if r.otel != nil {
		r.otel.recordHistogram(name, value, labels)
	}
}

// Expose renders the registry in Prometheus text exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.order {
		def := r.defs[name]
		switch def.kind {
		case kindCounter:
			writeCounterOrGauge(&b, def, "counter", r.counters[name])
		case kindGauge:
			writeCounterOrGauge(&b, def, "gauge", r.gauges[name])
		case kindHistogram:
			writeHistogram(&b, def, r.histograms[name])
		}
	}
	return b.String()
}

func writeCounterOrGauge(b *strings.Builder, def *metricDef, typ string, samples map[string]*sample) {
	fmt.Fprintf(b, "# HELP %s %s\n", def.name, def.help)
	fmt.Fprintf(b, "# TYPE %s %s\n", def.name, typ)
	keys := make([]string, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := samples[k]
		fmt.Fprintf(b, "%s%s %s\n", def.name, labelSuffix(s.labelPairs), formatFloat(s.value))
	}
}

func writeHistogram(b *strings.Builder, def *metricDef, samples map[string]*histogramSample) {
	fmt.Fprintf(b, "# HELP %s %s\n", def.name, def.help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", def.name)
	keys := make([]string, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		hs := samples[k]
		for i, bound := range hs.buckets {
			pairs := append(append([][2]string(nil), hs.labelPairs...), [2]string{"le", formatFloat(bound)})
			fmt.Fprintf(b, "%s_bucket%s %d\n", def.name, labelSuffix(pairs), hs.counts[i])
		}
		infPairs := append(append([][2]string(nil), hs.labelPairs...), [2]string{"le", "+Inf"})
		fmt.Fprintf(b, "%s_bucket%s %d\n", def.name, labelSuffix(infPairs), hs.counts[len(hs.buckets)])
		fmt.Fprintf(b, "%s_sum%s %s\n", def.name, labelSuffix(hs.labelPairs), formatFloat(hs.sum))
		fmt.Fprintf(b, "%s_count%s %d\n", def.name, labelSuffix(hs.labelPairs), hs.count)
	}
}

func labelSuffix(pairs [][2]string) string {
	if len(pairs) == 0 {
		return ""
	}
	sorted := append([][2]string(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][0] < sorted[j][0] })
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p[0])
		b.WriteString(`="`)
		b.WriteString(p[1])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "+Inf"
	}
	if math.IsInf(f, -1) {
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
