package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAcquireTimeout is returned by Acquire when no connection becomes
// available before the deadline, per spec.md §4.7.
var ErrAcquireTimeout = errors.New("bus: pool acquire timeout")

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("bus: pool closed")

// Connector constructs the underlying transport handle for one pool slot
// (a *nats.Conn in production, a stub in CGW_IPC_NATS_ENABLE=false mode).
type Connector interface {
	Connect(ctx context.Context) (Handle, error)
}

// Handle is the minimal lifecycle every pooled connection implements.
type Handle interface {
	Healthy() bool
	Close() error
}

// Connection is spec.md §3.6's BusConnection: a Handle plus pool
// bookkeeping.
type Connection struct {
	handle    Handle
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
}

// Handle returns the underlying transport handle for issuing a
// request-reply call.
func (c *Connection) Handle() Handle { return c.handle }

// PoolConfig configures the BusPool (spec.md §3.11).
type PoolConfig struct {
	MinConnections     int
	MaxConnections     int
	ConnectionTimeout  time.Duration
	IdleTimeout        time.Duration
}

// Pool is spec.md §4.7's BusPool: a bounded array of connections, a
// condition predicate "at least one idle and healthy", and statistics.
type Pool struct {
	cfg       PoolConfig
	connector Connector

	mu      sync.Mutex
	cond    *sync.Cond
	conns   []*Connection
	closed  bool

	totalCreated   uint64
	totalDestroyed uint64
	totalAcquired  uint64
	totalReleased  uint64
}

// NewPool builds an empty Pool; connections are created lazily on Acquire
// up to cfg.MaxConnections, matching spec.md §4.7's growth policy.
func NewPool(cfg PoolConfig, connector Connector) *Pool {
	p := &Pool{cfg: cfg, connector: connector}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns an in-use Connection, blocking up to timeout for one to
// become available, per spec.md §4.7/§4.3.3.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Connection, error) {
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	defer close(done)

	// Wake the waiting goroutine if the context is cancelled externally,
	// since sync.Cond.Wait only wakes on Signal/Broadcast.
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, ErrPoolClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		for _, c := range p.conns {
			if !c.inUse && c.handle.Healthy() {
				c.inUse = true
				c.lastUsed = time.Now()
				p.totalAcquired++
				return c, nil
			}
		}

		if len(p.conns) < p.cfg.MaxConnections {
			connectCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
			h, err := p.connector.Connect(connectCtx)
			cancel()
			if err != nil {
				if time.Now().After(deadline) {
					return nil, ErrAcquireTimeout
				}
				continue
			}
			c := &Connection{handle: h, createdAt: time.Now(), lastUsed: time.Now(), inUse: true}
			p.conns = append(p.conns, c)
			p.totalCreated++
			p.totalAcquired++
			return c, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}
		remaining := time.Until(deadline)
		waitTimer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		waitTimer.Stop()
	}
}

// Release returns a connection to idle and wakes one waiter.
func (p *Pool) Release(c *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.inUse = false
	c.lastUsed = time.Now()
	p.totalReleased++
	p.cond.Signal()
}

// HealthCheck walks idle connections, destroying any whose last use
// exceeds IdleTimeout or whose handle reports unhealthy, compacting the
// pool array afterwards. It returns the number removed, per spec.md §4.7.
func (p *Pool) HealthCheck() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.conns[:0]
	removed := 0
	for _, c := range p.conns {
		if c.inUse {
			kept = append(kept, c)
			continue
		}
		if time.Since(c.lastUsed) > p.cfg.IdleTimeout || !c.handle.Healthy() {
			_ = c.handle.Close()
			p.totalDestroyed++
			removed++
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
	return removed
}

// Shutdown destroys every connection and wakes all waiters with a
// broadcast, per spec.md §4.7.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, c := range p.conns {
		_ = c.handle.Close()
		p.totalDestroyed++
	}
	p.conns = nil
	p.cond.Broadcast()
}

// Stats is spec.md §8 invariant 8's observable surface.
type Stats struct {
	Active         int
	Idle           int
	Current        int
	TotalCreated   uint64
	TotalDestroyed uint64
	TotalAcquired  uint64
	TotalReleased  uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := 0
	for _, c := range p.conns {
		if c.inUse {
			active++
		}
	}
	return Stats{
		Active:         active,
		Idle:           len(p.conns) - active,
		Current:        len(p.conns),
		TotalCreated:   p.totalCreated,
		TotalDestroyed: p.totalDestroyed,
		TotalAcquired:  p.totalAcquired,
		TotalReleased:  p.totalReleased,
	}
}
