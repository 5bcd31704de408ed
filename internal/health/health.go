// Package health implements the liveness/readiness aggregator of
// spec.md §4.10: a small set of named probes, each either critical or
// not, rolled up into Healthy/Degraded/Unhealthy.
package health

import "sync"

// Status is the aggregate health rollup.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Check is spec.md §3.10's HealthCheck: a named boolean probe, optionally
// critical (gates readiness).
type Check struct {
	Name     string
	Probe    func() bool
	Critical bool
}

// Aggregator owns the registered probes and computes the rollup.
type Aggregator struct {
	mu     sync.RWMutex
	checks []Check
}

// New builds an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Register adds a probe. Call during startup before serving traffic.
func (a *Aggregator) Register(c Check) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, c)
}

// Result is one probe's outcome, used for the /_metrics JSON summary and
// for diagnosing a 503 /ready response.
type Result struct {
	Name     string
	Healthy  bool
	Critical bool
}

// Evaluate runs every probe and returns the rollup status plus each
// probe's Result, per spec.md §3.10/§4.10:
// Healthy iff all probes succeed; Degraded iff only non-critical probes
// fail; Unhealthy iff any critical probe fails.
func (a *Aggregator) Evaluate() (Status, []Result) {
	a.mu.RLock()
	checks := append([]Check(nil), a.checks...)
	a.mu.RUnlock()

	results := make([]Result, 0, len(checks))
	criticalFailures := 0
	anyFailure := false
	for _, c := range checks {
		ok := c.Probe()
		if !ok {
			anyFailure = true
			if c.Critical {
				criticalFailures++
			}
		}
		results = append(results, Result{Name: c.Name, Healthy: ok, Critical: c.Critical})
	}

	status := Healthy
	switch {
	case criticalFailures > 0:
		status = Unhealthy
	case anyFailure:
		status = Degraded
	}
	return status, results
}

// Ready reports whether every critical probe passes, and the count of
// failing critical checks for the 503 body's message, per spec.md §4.10
// ("Readiness considers only critical probes").
func (a *Aggregator) Ready() (bool, int) {
	a.mu.RLock()
	checks := append([]Check(nil), a.checks...)
	a.mu.RUnlock()

	failing := 0
	for _, c := range checks {
		if !c.Critical {
			continue
		}
		if !c.Probe() {
			failing++
		}
	}
	return failing == 0, failing
}
