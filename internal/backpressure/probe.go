// Package backpressure implements the cached Router-backpressure indicator
// of spec.md §4.1.1, grounded on original_source/src/backpressure_client.c
// (BACKPRESSURE_INACTIVE/WARNING/ACTIVE, check_interval_seconds, a cached
// status read separate from the refresh call).
//
// Per spec.md §9 Open Question 3, the original's fixed 100ms nanosleep
// stand-in for connect-completion detection is replaced with a real
// non-blocking dial (a net.Dialer with a Timeout in the HTTP transport)
// rather than carried forward.
package backpressure

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backpressureMetricName is the Prometheus gauge this probe reads off the
// Router's own exposition, e.g. "router_backpressure_status 1".
const backpressureMetricName = "router_backpressure_status"

// Status is the three-state indicator of spec.md §4.1.1.
type Status int

const (
	Inactive Status = iota
	Warning
	Active
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Warning:
		return "warning"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Config controls Probe construction.
type Config struct {
	MetricsURL     string
	CheckInterval  time.Duration
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Probe caches the Router's backpressure status, refreshing no more often
// than cfg.CheckInterval, per spec.md §4.1.1.
type Probe struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	cached      Status
	lastChecked time.Time
}

// New builds a Probe starting Inactive.
func New(cfg Config) *Probe {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 500 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Second
	}
	return &Probe{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
			},
		},
	}
}

// Status returns the cached status, refreshing it first if
// check_interval_seconds has elapsed since the last refresh. A refresh
// failure (Router metrics endpoint unreachable) leaves the cached value
// unchanged rather than flipping to Active, since an unreachable probe is
// not itself evidence of Router overload.
func (p *Probe) Status() Status {
	p.mu.Lock()
	stale := time.Since(p.lastChecked) >= p.cfg.CheckInterval
	p.mu.Unlock()
	if stale {
		p.refresh()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// CachedStatus returns the last known status without attempting a refresh,
// mirroring the original's backpressure_client_get_cached_status.
func (p *Probe) CachedStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

func (p *Probe) refresh() {
	status, ok := p.fetch()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastChecked = time.Now()
	if ok {
		p.cached = status
	}
}

// fetch performs one non-blocking-dial HTTP GET against the Router's
// metrics endpoint and extracts its backpressure gauge, a real connect
// completion wait rather than the original's fixed sleep.
func (p *Probe) fetch() (Status, bool) {
	if p.cfg.MetricsURL == "" {
		return Inactive, false
	}
	req, err := http.NewRequest(http.MethodGet, p.cfg.MetricsURL, nil)
	if err != nil {
		return Inactive, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Inactive, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Inactive, false
	}
	return parseBackpressureGauge(resp.Body)
}

// parseBackpressureGauge scans a Prometheus text exposition body for the
// backpressure gauge line, defaulting to Inactive if the metric is absent.
func parseBackpressureGauge(r io.Reader) (Status, bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := fields[0]
		if idx := strings.IndexByte(name, '{'); idx != -1 {
			name = name[:idx]
		}
		if name != backpressureMetricName {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch int(v) {
		case 1:
			return Warning, true
		case 2:
			return Active, true
		default:
			return Inactive, true
		}
	}
	return Inactive, true
}
