package health

import "testing"

func TestHealthyWhenAllProbesPass(t *testing.T) {
	a := New()
	a.Register(Check{Name: "a", Probe: func() bool { return true }, Critical: true})
	a.Register(Check{Name: "b", Probe: func() bool { return true }, Critical: false})

	status, results := a.Evaluate()
	if status != Healthy {
		t.Fatalf("expected Healthy, got %s", status)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestDegradedWhenOnlyNonCriticalFails(t *testing.T) {
	a := New()
	a.Register(Check{Name: "a", Probe: func() bool { return true }, Critical: true})
	a.Register(Check{Name: "b", Probe: func() bool { return false }, Critical: false})

	status, _ := a.Evaluate()
	if status != Degraded {
		t.Fatalf("expected Degraded, got %s", status)
	}
	ready, failing := a.Ready()
	if !ready || failing != 0 {
		t.Fatalf("expected ready with non-critical failure, got ready=%v failing=%d", ready, failing)
	}
}

func TestUnhealthyWhenCriticalFails(t *testing.T) {
	a := New()
	a.Register(Check{Name: "nats_connection", Probe: func() bool { return false }, Critical: true})

	status, _ := a.Evaluate()
	if status != Unhealthy {
		t.Fatalf("expected Unhealthy, got %s", status)
	}
	ready, failing := a.Ready()
	if ready || failing != 1 {
		t.Fatalf("expected not ready with 1 critical failure, got ready=%v failing=%d", ready, failing)
	}
}
