package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Envelope is the bus request wrapper of spec.md §4.6.
type Envelope struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	MessageID uint64          `json:"message_id"`
	TenantID  string          `json:"tenant_id,omitempty"`
	PolicyID  string          `json:"policy_id,omitempty"`
	Input     json.RawMessage `json:"input"`
}

// BridgeConfig configures the IPC<->bus bridge.
type BridgeConfig struct {
	Subject        string
	RequestTimeout time.Duration
}

// Bridge wraps an IPC payload in a bus Envelope and performs a
// request-reply against the Router, per spec.md §4.6. It tracks the
// counters named there: total_requests, bus_errors, timeouts.
type Bridge struct {
	cfg       BridgeConfig
	requester Requester
	state     *ResilienceState

	messageIDSeq uint64

	totalRequests uint64
	busErrors     uint64
	timeouts      uint64
}

// NewBridge builds a Bridge. requester is either NewNATSRequester's real
// path or StubRequester for enable_nats=false.
func NewBridge(cfg BridgeConfig, requester Requester, state *ResilienceState) *Bridge {
	return &Bridge{cfg: cfg, requester: requester, state: state}
}

// Forward wraps payload in an Envelope and performs the request-reply,
// returning the reply body, or an error when the resilience gate is
// closed, the request times out or the bus fails (mapping to IPC
// RESPONSE_ERROR / a 503 at the HTTP layer).
func (b *Bridge) Forward(ctx context.Context, tenantID, policyID string, payload []byte) ([]byte, error) {
	atomic.AddUint64(&b.totalRequests, 1)

	if !b.state.CanAccept() {
		atomic.AddUint64(&b.busErrors, 1)
		return nil, fmt.Errorf("bus: resilience gate closed (state=%s)", b.state.State())
	}

	env := Envelope{
		From:      "ide@localhost",
		To:        "router",
		MessageID: atomic.AddUint64(&b.messageIDSeq, 1),
		TenantID:  tenantID,
		PolicyID:  policyID,
		Input:     rawOrString(payload),
	}
	body, err := json.Marshal(env)
	if err != nil {
		atomic.AddUint64(&b.busErrors, 1)
		return nil, fmt.Errorf("bus: marshal envelope: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	b.state.RequestStart()
	reply, err := b.requester.Request(reqCtx, b.cfg.Subject, body)
	if err != nil {
		b.state.RequestComplete(false)
		if reqCtx.Err() == context.DeadlineExceeded {
			atomic.AddUint64(&b.timeouts, 1)
		} else {
			atomic.AddUint64(&b.busErrors, 1)
		}
		return nil, err
	}
	b.state.RequestComplete(true)
	return reply, nil
}

// rawOrString tries to treat payload as already-valid JSON; if it isn't,
// it's wrapped as a JSON string so Envelope.Input is always valid JSON,
// per spec.md §4.6 ("parsed as JSON, else raw").
func rawOrString(payload []byte) json.RawMessage {
	var js json.RawMessage
	if json.Valid(payload) {
		js = append(json.RawMessage(nil), payload...)
		return js
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return json.RawMessage(`null`)
	}
	return quoted
}

// Stats is the bridge's counters, for logging/metrics.
type Stats struct {
	TotalRequests uint64
	BusErrors     uint64
	Timeouts      uint64
}

func (b *Bridge) Stats() Stats {
	return Stats{
		TotalRequests: atomic.LoadUint64(&b.totalRequests),
		BusErrors:     atomic.LoadUint64(&b.busErrors),
		Timeouts:      atomic.LoadUint64(&b.timeouts),
	}
}
