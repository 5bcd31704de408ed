// Package bus implements the gateway's connection to the Router peer: a
// resilience gate (§4.8), a bounded connection pool (§4.7), and a
// request-reply client bridged from the IPC/HTTP layers (§4.6), backed by
// NATS (github.com/nats-io/nats.go), grounded on
// liverty-music-backend/internal/infrastructure/messaging for real
// nats.go option wiring.
package bus

import (
	"sync"
	"time"
)

// ConnectionState is the resilience gate's state, spec.md §3.7.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
	Degraded
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ResilienceConfig configures the gate (spec.md §3.11).
type ResilienceConfig struct {
	MaxInflight       int32
	DegradedThreshold int
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
}

// ResilienceState is the always-on gate every outbound bus call consults,
// per spec.md §4.8. It is independent of the connection pool: a healthy
// pool can still be Degraded if the peer misbehaves.
type ResilienceState struct {
	cfg ResilienceConfig

	mu                sync.Mutex
	state             ConnectionState
	inflight          int32
	consecutiveErrors int
	totalErrors       uint64
	reconnectAttempts uint64
	currentBackoff    time.Duration
	lastErrorAt       time.Time

	onTransition func(from, to ConnectionState)
}

// NewResilienceState builds a gate starting Disconnected.
func NewResilienceState(cfg ResilienceConfig) *ResilienceState {
	return &ResilienceState{
		cfg:            cfg,
		state:          Disconnected,
		currentBackoff: cfg.MinBackoff,
	}
}

// OnTransition registers a callback invoked once per state change, so
// callers can log transitions exactly once as spec.md §4.8 requires.
func (r *ResilienceState) OnTransition(fn func(from, to ConnectionState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
}

func (r *ResilienceState) transitionLocked(to ConnectionState) {
	if to == r.state {
		return
	}
	from := r.state
	r.state = to
	cb := r.onTransition
	if cb != nil {
		// Invoke outside the critical section's remaining work but while
		// still holding semantic ownership of "from"/"to"; the gate's own
		// mutex only ever guards its fields, so a well-behaved logging
		// callback must not call back into the gate.
		go cb(from, to)
	}
}

// State returns the current connection state.
func (r *ResilienceState) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CanAccept implements spec.md §4.8's can_accept: false when inflight is at
// capacity or the state is Disconnected/Reconnecting; true otherwise (even
// Degraded).
func (r *ResilienceState) CanAccept() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight >= r.cfg.MaxInflight {
		return false
	}
	return r.state != Disconnected && r.state != Reconnecting
}

// RequestStart increments inflight. Callers must pair every RequestStart
// with exactly one RequestComplete.
func (r *ResilienceState) RequestStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight++
}

// RequestComplete decrements inflight and updates the error/backoff state.
func (r *ResilienceState) RequestComplete(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight > 0 {
		r.inflight--
	}
	if success {
		r.consecutiveErrors = 0
		r.currentBackoff = r.cfg.MinBackoff
		if r.state == Degraded {
			r.transitionLocked(Connected)
		}
		return
	}
	r.consecutiveErrors++
	r.totalErrors++
	r.lastErrorAt = time.Now()
	r.currentBackoff *= 2
	if r.currentBackoff > r.cfg.MaxBackoff {
		r.currentBackoff = r.cfg.MaxBackoff
	}
	if r.state == Connected && r.consecutiveErrors >= r.cfg.DegradedThreshold {
		r.transitionLocked(Degraded)
	}
}

// MarkConnected forces the gate to Connected and resets backoff/error
// counters, used after a successful (re)connect.
func (r *ResilienceState) MarkConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentBackoff = r.cfg.MinBackoff
	r.consecutiveErrors = 0
	r.transitionLocked(Connected)
}

// MarkReconnecting forces the gate to Reconnecting, incrementing the
// reconnect-attempt counter.
func (r *ResilienceState) MarkReconnecting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectAttempts++
	r.transitionLocked(Reconnecting)
}

// MarkDisconnected forces the gate to Disconnected.
func (r *ResilienceState) MarkDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitionLocked(Disconnected)
}

// CurrentBackoff returns the current reconnect backoff duration.
func (r *ResilienceState) CurrentBackoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBackoff
}

// Snapshot is a point-in-time view for health probes and metrics.
type Snapshot struct {
	State             ConnectionState
	Inflight          int32
	ConsecutiveErrors int
	TotalErrors       uint64
	ReconnectAttempts uint64
	CurrentBackoff    time.Duration
}

func (r *ResilienceState) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:             r.state,
		Inflight:          r.inflight,
		ConsecutiveErrors: r.consecutiveErrors,
		TotalErrors:       r.totalErrors,
		ReconnectAttempts: r.reconnectAttempts,
		CurrentBackoff:    r.currentBackoff,
	}
}
