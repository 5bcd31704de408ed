package admission

import (
	"sync"

	"github.com/beamline/gateway/internal/obsmetrics"
)

// AbuseEventType classifies a non-blocking observability signal recorded
// after admission succeeds, per SPEC_FULL.md §4.1.5.
type AbuseEventType string

const (
	AbuseUniqueIdentityChurn AbuseEventType = "unique_identity_churn"
	AbuseOversizedPayload    AbuseEventType = "oversized_payload"
	AbuseMalformedBurst      AbuseEventType = "malformed_payload_burst"
)

// tenantTrackerCapacity bounds the per-tenant identity set, so a
// misbehaving tenant cannot grow memory unboundedly.
const tenantTrackerCapacity = 512

// maxPayloadBytes flags a request body as oversized for abuse-tracking
// purposes (distinct from, and looser than, the IPC wire's MAX_PAYLOAD).
const maxPayloadBytes = 1 << 20

// malformedBurstThreshold is the number of consecutive malformed bodies
// from one tenant that trips the malformed_payload_burst event; a
// well-formed body resets the streak.
const malformedBurstThreshold = 5

// Detector tracks per-tenant abuse signals as a pure observability sink:
// it never itself rejects a request (spec.md §9 Open Question 1 resolved
// as option (b), exact counts via a set per tenant, documented in
// DESIGN.md — the original's most-recently-seen-only comparison would
// silently undercount, which is worse for an observability-only signal
// than simply tracking the real set).
type Detector struct {
	metrics *obsmetrics.Registry

	mu       sync.Mutex
	tenants  map[string]*tenantState
}

type tenantState struct {
	identities      map[string]struct{}
	malformedStreak int
}

// NewDetector builds a Detector reporting through metrics.
func NewDetector(metrics *obsmetrics.Registry) *Detector {
	return &Detector{metrics: metrics, tenants: make(map[string]*tenantState)}
}

func (d *Detector) stateFor(tenantID string) *tenantState {
	st, ok := d.tenants[tenantID]
	if !ok {
		st = &tenantState{identities: make(map[string]struct{})}
		d.tenants[tenantID] = st
	}
	return st
}

// TrackRequest records one post-admission observation. identity is the
// api_key_or_ip used for this call; bodySize and malformed describe the
// request body.
func (d *Detector) TrackRequest(tenantID, identity string, bodySize int, malformed bool) {
	if tenantID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateFor(tenantID)

	if len(st.identities) < tenantTrackerCapacity {
		if _, seen := st.identities[identity]; !seen {
			st.identities[identity] = struct{}{}
			if len(st.identities) > 1 {
				d.emit(tenantID, AbuseUniqueIdentityChurn)
			}
		}
	}

	if bodySize > maxPayloadBytes {
		d.emit(tenantID, AbuseOversizedPayload)
	}

	if malformed {
		st.malformedStreak++
		if st.malformedStreak >= malformedBurstThreshold {
			d.emit(tenantID, AbuseMalformedBurst)
			st.malformedStreak = 0
		}
	} else {
		st.malformedStreak = 0
	}
}

func (d *Detector) emit(tenantID string, t AbuseEventType) {
	if d.metrics != nil {
		d.metrics.Inc(obsmetrics.AbuseEventsTotal, 1,
			[2]string{"tenant_id", tenantID}, [2]string{"type", string(t)})
	}
}

// UniqueIdentityCount returns the number of distinct identities observed
// for tenantID, capped at tenantTrackerCapacity.
func (d *Detector) UniqueIdentityCount(tenantID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.tenants[tenantID]
	if !ok {
		return 0
	}
	return len(st.identities)
}
