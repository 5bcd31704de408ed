package admission

import (
	"net/http"

	"github.com/beamline/gateway/internal/breaker"
	"github.com/beamline/gateway/internal/obsmetrics"
)

// breakerStater is implemented by rate-limiter backends that wrap a circuit
// breaker directly (the bare RedisLimiter).
type breakerStater interface {
	BreakerState() breaker.State
}

// optionalBreakerStater is implemented by backends that wrap a breaker only
// conditionally (FallbackLimiter, which may or may not have a remote
// backend configured underneath it).
type optionalBreakerStater interface {
	BreakerState() (breaker.State, bool)
}

// handleCircuitBreakers implements GET /api/v1/extensions/circuit-breakers,
// reporting the redis rate-limiter breaker's state — the same state backing
// the gateway_redis_ratelimit_circuit_breaker_state gauge of spec.md
// §4.9.2, surfaced here as JSON for operator tooling.
func (s *Server) handleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	state := breaker.Closed
	reporting := false
	switch limiter := s.limiter.(type) {
	case breakerStater:
		state = limiter.BreakerState()
		reporting = true
	case optionalBreakerStater:
		if st, ok := limiter.BreakerState(); ok {
			state = st
			reporting = true
		}
	}

	if reporting {
		s.metrics.SetGauge(obsmetrics.RedisBreakerState, state.GaugeValue())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"redis_rate_limiter": map[string]any{
			"state":     state.String(),
			"reporting": reporting,
		},
	})
}
