package obsmetrics

import (
	"strings"
	"testing"
)

func TestCounterExposition(t *testing.T) {
	r := New()
	r.RegisterCounter("gateway_test_total", "a test counter")
	r.Inc("gateway_test_total", 1, [2]string{"route", "decide"})
	r.Inc("gateway_test_total", 2, [2]string{"route", "decide"})
	r.Inc("gateway_test_total", 1, [2]string{"route", "messages"})

	out := r.Expose()
	if !strings.Contains(out, `gateway_test_total{route="decide"} 3`) {
		t.Fatalf("expected accumulated counter sample, got:\n%s", out)
	}
	if !strings.Contains(out, `gateway_test_total{route="messages"} 1`) {
		t.Fatalf("expected second label set sample, got:\n%s", out)
	}
	if !strings.Contains(out, "# HELP gateway_test_total a test counter") {
		t.Fatalf("missing HELP line:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE gateway_test_total counter") {
		t.Fatalf("missing TYPE line:\n%s", out)
	}
}

func TestHistogramBucketsCumulative(t *testing.T) {
	r := New()
	r.RegisterHistogram("gateway_test_duration_seconds", "a test histogram", []float64{0.1, 0.5, 1})
	r.Observe("gateway_test_duration_seconds", 0.05)
	r.Observe("gateway_test_duration_seconds", 0.3)
	r.Observe("gateway_test_duration_seconds", 2.0)

	out := r.Expose()
	if !strings.Contains(out, `gateway_test_duration_seconds_bucket{le="0.1"} 1`) {
		t.Fatalf("expected 1 observation <= 0.1, got:\n%s", out)
	}
	if !strings.Contains(out, `gateway_test_duration_seconds_bucket{le="0.5"} 2`) {
		t.Fatalf("expected cumulative count 2 at le=0.5, got:\n%s", out)
	}
	if !strings.Contains(out, `gateway_test_duration_seconds_bucket{le="+Inf"} 3`) {
		t.Fatalf("expected all 3 observations in +Inf bucket, got:\n%s", out)
	}
	if !strings.Contains(out, "gateway_test_duration_seconds_count 3") {
		t.Fatalf("expected count 3, got:\n%s", out)
	}
}

func TestGaugeSetAndAdjust(t *testing.T) {
	r := New()
	r.RegisterGauge("gateway_test_gauge", "a test gauge")
	r.SetGauge("gateway_test_gauge", 5)
	r.IncGauge("gateway_test_gauge", -2)

	out := r.Expose()
	if !strings.Contains(out, "gateway_test_gauge 3") {
		t.Fatalf("expected gauge value 3, got:\n%s", out)
	}
}

func TestRequiredMetricsPreregistered(t *testing.T) {
	r := NewGatewayRegistry()
	r.Inc(HTTPRequestsTotal, 1, [2]string{"route", "decide"}, [2]string{"status", "200"})
	out := r.Expose()
	if !strings.Contains(out, HTTPRequestsTotal) {
		t.Fatalf("expected %s in exposition", HTTPRequestsTotal)
	}
}
