package backpressure

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeDefaultsToInactive(t *testing.T) {
	p := New(Config{})
	if got := p.CachedStatus(); got != Inactive {
		t.Fatalf("expected Inactive before any refresh, got %s", got)
	}
}

func TestProbeParsesActiveGauge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# HELP router_backpressure_status x\nrouter_backpressure_status 2\n"))
	}))
	defer srv.Close()

	p := New(Config{MetricsURL: srv.URL, CheckInterval: time.Millisecond})
	if got := p.Status(); got != Active {
		t.Fatalf("expected Active, got %s", got)
	}
}

func TestProbeUnreachableKeepsLastKnown(t *testing.T) {
	p := New(Config{MetricsURL: "http://127.0.0.1:1", CheckInterval: time.Millisecond, DialTimeout: 10 * time.Millisecond})
	p.cached = Warning
	if got := p.Status(); got != Warning {
		t.Fatalf("expected cached Warning preserved on fetch failure, got %s", got)
	}
}
