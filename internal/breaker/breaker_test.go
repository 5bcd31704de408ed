package breaker

import (
	"testing"
	"time"
)

func newTestBreaker() *Breaker {
	return New(Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})
}

func TestClosedToOpenAtThreshold(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 2; i++ {
		if !b.AllowRequest() {
			t.Fatalf("expected admit before threshold reached")
		}
		b.RecordFailure()
	}
	if b.State() != Closed {
		t.Fatalf("expected still closed after 2 failures, got %s", b.State())
	}
	b.AllowRequest()
	b.RecordFailure() // 3rd consecutive failure
	if b.State() != Open {
		t.Fatalf("expected open after failure_threshold consecutive failures, got %s", b.State())
	}
}

func TestOpenRejectsUntilTimeoutElapses(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.AllowRequest()
		b.RecordFailure()
	}
	if b.State() != Open {
		t.Fatalf("expected open")
	}
	if b.AllowRequest() {
		t.Fatalf("expected reject within open_timeout")
	}
	time.Sleep(25 * time.Millisecond)
	if !b.AllowRequest() {
		t.Fatalf("expected admit once open_timeout elapsed")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected transition to half_open, got %s", b.State())
	}
}

func TestHalfOpenSingleFailureReopens(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.AllowRequest()
		b.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)
	b.AllowRequest() // -> half open, 1 inflight
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected single half-open failure to reopen, got %s", b.State())
	}
}

func TestHalfOpenSuccessThresholdCloses(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.AllowRequest()
		b.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)
	b.AllowRequest() // half-open probe 1
	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Fatalf("expected to remain half-open after 1 of 2 successes, got %s", b.State())
	}
	b.AllowRequest() // half-open probe 2
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("expected closed after success_threshold consecutive successes, got %s", b.State())
	}
}

func TestHalfOpenLimitsInflightProbes(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.AllowRequest()
		b.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)
	if !b.AllowRequest() {
		t.Fatalf("expected first half-open probe admitted")
	}
	if b.AllowRequest() {
		t.Fatalf("expected second concurrent half-open probe rejected (max_calls=1)")
	}
}
