package bus

import (
	"testing"
	"time"
)

func testConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxInflight:       4,
		DegradedThreshold: 3,
		MinBackoff:        10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
	}
}

func TestCanAcceptFalseWhenDisconnected(t *testing.T) {
	r := NewResilienceState(testConfig())
	if r.CanAccept() {
		t.Fatalf("expected CanAccept false while disconnected")
	}
	r.MarkConnected()
	if !r.CanAccept() {
		t.Fatalf("expected CanAccept true once connected")
	}
}

func TestCanAcceptTrueWhenDegraded(t *testing.T) {
	r := NewResilienceState(testConfig())
	r.MarkConnected()
	for i := 0; i < 3; i++ {
		r.RequestStart()
		r.RequestComplete(false)
	}
	if r.State() != Degraded {
		t.Fatalf("expected degraded after consecutive errors reach threshold, got %s", r.State())
	}
	if !r.CanAccept() {
		t.Fatalf("expected CanAccept true even while degraded")
	}
}

func TestSuccessResetsConsecutiveErrorsAndRecovers(t *testing.T) {
	r := NewResilienceState(testConfig())
	r.MarkConnected()
	for i := 0; i < 3; i++ {
		r.RequestStart()
		r.RequestComplete(false)
	}
	if r.State() != Degraded {
		t.Fatalf("expected degraded")
	}
	r.RequestStart()
	r.RequestComplete(true)
	if r.State() != Connected {
		t.Fatalf("expected success to transition degraded back to connected, got %s", r.State())
	}
	snap := r.Snapshot()
	if snap.ConsecutiveErrors != 0 {
		t.Fatalf("expected consecutive errors reset to 0, got %d", snap.ConsecutiveErrors)
	}
}

func TestInflightBoundsCanAccept(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInflight = 1
	r := NewResilienceState(cfg)
	r.MarkConnected()
	r.RequestStart()
	if r.CanAccept() {
		t.Fatalf("expected CanAccept false once inflight reaches max_inflight")
	}
	r.RequestComplete(true)
	if !r.CanAccept() {
		t.Fatalf("expected CanAccept true after inflight drains")
	}
}
