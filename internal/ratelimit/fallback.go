package ratelimit

import (
	"context"
	"sync/atomic"

	"github.com/beamline/gateway/internal/breaker"
	"github.com/beamline/gateway/internal/logging"
)

// FallbackLimiter wraps a remote Limiter with a local MemoryLimiter,
// switching to the local backend on any remote Error and switching back
// once the remote backend's breaker re-closes, per spec.md §4.3.4.
// Fallback transitions are logged once per state change, not per call.
type FallbackLimiter struct {
	remote Limiter
	local  *MemoryLimiter
	log    *logging.Logger

	usingFallback atomic.Bool
}

// NewFallbackLimiter builds a FallbackLimiter. remote may be nil, in which
// case every call is served locally (used when Redis construction itself
// failed and GATEWAY_RATE_LIMIT_FALLBACK_TO_LOCAL=true).
func NewFallbackLimiter(remote Limiter, cfg Config, log *logging.Logger) *FallbackLimiter {
	f := &FallbackLimiter{
		remote: remote,
		local:  NewMemoryLimiter(cfg, nil),
		log:    log,
	}
	if remote == nil {
		f.usingFallback.Store(true)
	}
	return f
}

// Check implements Limiter.
func (f *FallbackLimiter) Check(ctx context.Context, endpoint Endpoint, tenantID, clientKey string) Result {
	if f.remote == nil || f.usingFallback.Load() {
		return f.checkLocalAndMaybeRecover(ctx, endpoint, tenantID, clientKey)
	}

	res := f.remote.Check(ctx, endpoint, tenantID, clientKey)
	if res.Decision == Error {
		if f.usingFallback.CompareAndSwap(false, true) {
			f.log.Warn("rate limiter falling back to in-memory backend",
				"reason", "remote_backend_error")
		}
		return f.local.Check(ctx, endpoint, tenantID, clientKey)
	}
	return res
}

// checkLocalAndMaybeRecover serves the call from the in-memory backend,
// and opportunistically probes the remote breaker so the gateway recovers
// from fallback once the remote backend's circuit re-closes, without
// blocking the current request on that probe's outcome.
func (f *FallbackLimiter) checkLocalAndMaybeRecover(ctx context.Context, endpoint Endpoint, tenantID, clientKey string) Result {
	res := f.local.Check(ctx, endpoint, tenantID, clientKey)
	if f.remote == nil {
		return res
	}
	if rl, ok := f.remote.(*RedisLimiter); ok && rl.BreakerState().String() == "closed" {
		if f.usingFallback.CompareAndSwap(true, false) {
			f.log.Info("rate limiter recovered from in-memory fallback",
				"reason", "remote_backend_breaker_closed")
		}
	}
	return res
}

// BreakerState exposes the wrapped remote backend's breaker state, used by
// the GET /api/v1/extensions/circuit-breakers endpoint. ok is false when
// there is no remote backend to report on.
func (f *FallbackLimiter) BreakerState() (state breaker.State, ok bool) {
	rl, ok := f.remote.(*RedisLimiter)
	if !ok {
		return 0, false
	}
	return rl.BreakerState(), true
}

// Close closes both backends.
func (f *FallbackLimiter) Close() error {
	if f.remote != nil {
		_ = f.remote.Close()
	}
	return f.local.Close()
}
