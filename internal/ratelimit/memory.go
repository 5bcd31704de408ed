package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-memory fixed-window backend of spec.md §4.3.1: a
// single shared window_start per limiter instance, and a per-endpoint
// count that resets whenever the window rolls over. Per §9 Open Question
// 2, the shared window (rather than one window per endpoint) is kept as
// specified, not treated as a bug.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	windowStart int64
	counts      map[Endpoint]uint64
}

// NewMemoryLimiter builds a MemoryLimiter. nowFn defaults to time.Now when
// nil, overridable in tests for deterministic window-boundary assertions.
func NewMemoryLimiter(cfg Config, nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{
		cfg:         cfg,
		now:         nowFn,
		windowStart: windowStart(nowFn(), cfg.WindowSeconds),
		counts:      make(map[Endpoint]uint64),
	}
}

func windowStart(t time.Time, windowSec int64) int64 {
	if windowSec <= 0 {
		windowSec = 1
	}
	now := t.Unix()
	return (now / windowSec) * windowSec
}

// Check implements Limiter. O(1): a map lookup/increment under one mutex.
func (m *MemoryLimiter) Check(ctx context.Context, endpoint Endpoint, tenantID, clientKey string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowWindow := windowStart(m.now(), m.cfg.WindowSeconds)
	if nowWindow != m.windowStart {
		m.windowStart = nowWindow
		m.counts = make(map[Endpoint]uint64)
	}

	limit := m.cfg.LimitFor(endpoint)
	m.counts[endpoint]++
	count := m.counts[endpoint]
	resetAt := m.windowStart + m.cfg.WindowSeconds

	if int64(count) > int64(limit) {
		return Result{
			Decision:   Exceeded,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt - m.now().Unix(),
		}
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Decision:  Allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Close is a no-op for the in-memory backend; it exists to satisfy Limiter.
func (m *MemoryLimiter) Close() error { return nil }
