package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterExactlyNAllowedPerWindow(t *testing.T) {
	cfg := Config{
		WindowSeconds: 60,
		GlobalLimit:   3,
	}
	now := time.Unix(1_700_000_000, 0)
	lim := NewMemoryLimiter(cfg, func() time.Time { return now })

	var allowed, exceeded int
	for i := 0; i < 5; i++ {
		res := lim.Check(context.Background(), EndpointMessages, "t1", "k1")
		switch res.Decision {
		case Allowed:
			allowed++
		case Exceeded:
			exceeded++
		}
	}
	if allowed != 3 {
		t.Fatalf("expected exactly 3 allowed, got %d", allowed)
	}
	if exceeded != 2 {
		t.Fatalf("expected exactly 2 exceeded, got %d", exceeded)
	}
}

func TestMemoryLimiterResetsAfterWindow(t *testing.T) {
	cfg := Config{WindowSeconds: 10, GlobalLimit: 1}
	current := time.Unix(1_700_000_000, 0)
	lim := NewMemoryLimiter(cfg, func() time.Time { return current })

	first := lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	if first.Decision != Allowed {
		t.Fatalf("expected first call allowed")
	}
	second := lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	if second.Decision != Exceeded {
		t.Fatalf("expected second call within window exceeded")
	}

	current = current.Add(11 * time.Second)
	third := lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	if third.Decision != Allowed {
		t.Fatalf("expected call after window quiet period to be allowed again")
	}
}

func TestMemoryLimiterSharedWindowAcrossEndpoints(t *testing.T) {
	// Per spec.md §9 Open Question 2 and DESIGN.md's resolution: one
	// shared window_start across all endpoints of a limiter instance.
	cfg := Config{WindowSeconds: 10, GlobalLimit: 100}
	current := time.Unix(1_700_000_000, 0)
	lim := NewMemoryLimiter(cfg, func() time.Time { return current })

	lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	lim.Check(context.Background(), EndpointRoutesDecide, "t1", "k1")

	current = current.Add(11 * time.Second)
	// Triggers a reset of ALL endpoint counts, not just the one checked.
	lim.Check(context.Background(), EndpointMessages, "t1", "k1")

	lim.mu.Lock()
	decideCount := lim.counts[EndpointRoutesDecide]
	lim.mu.Unlock()
	if decideCount != 0 {
		t.Fatalf("expected shared window reset to clear all endpoint counts, routes_decide count = %d", decideCount)
	}
}

func TestMemoryLimiterPerEndpointEnforcement(t *testing.T) {
	cfg := Config{
		WindowSeconds: 60,
		GlobalLimit:   1000,
		EndpointLimits: map[Endpoint]int{
			EndpointMessages: 2,
		},
	}
	now := time.Unix(1_700_000_000, 0)
	lim := NewMemoryLimiter(cfg, func() time.Time { return now })

	lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	res := lim.Check(context.Background(), EndpointMessages, "t1", "k1")
	if res.Decision != Exceeded {
		t.Fatalf("expected endpoint-specific limit of 2 to be enforced, got %v", res.Decision)
	}
}
