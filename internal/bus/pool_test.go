package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu      sync.Mutex
	healthy bool
	closed  bool
}

func (f *fakeHandle) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy && !f.closed
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeConnector struct {
	mu      sync.Mutex
	created int
}

func (c *fakeConnector) Connect(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
	return &fakeHandle{healthy: true}, nil
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		MinConnections:    0,
		MaxConnections:    2,
		ConnectionTimeout: time.Second,
		IdleTimeout:       50 * time.Millisecond,
	}
}

func TestPoolAcquireGrowsUpToMax(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(testPoolConfig(), connector)

	c1, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c2, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if connector.created != 2 {
		t.Fatalf("expected 2 connections created, got %d", connector.created)
	}
	pool.Release(c1)
	pool.Release(c2)
}

func TestPoolAcquireTimeoutWhenExhausted(t *testing.T) {
	connector := &fakeConnector{}
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	pool := NewPool(cfg, connector)

	c1, err := pool.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = pool.Acquire(context.Background(), 30*time.Millisecond)
	if err != ErrAcquireTimeout {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	pool.Release(c1)
}

func TestPoolInvariantsAfterAcquireRelease(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(testPoolConfig(), connector)

	c1, _ := pool.Acquire(context.Background(), time.Second)
	pool.Release(c1)

	stats := pool.Stats()
	if stats.TotalAcquired != stats.TotalReleased {
		t.Fatalf("expected total_acquired == total_released, got %d vs %d", stats.TotalAcquired, stats.TotalReleased)
	}
	if stats.Active != stats.TotalAcquired-stats.TotalReleased {
		t.Fatalf("expected active == total_acquired - total_released, got active=%d", stats.Active)
	}
}

func TestPoolHealthCheckRemovesStaleIdle(t *testing.T) {
	connector := &fakeConnector{}
	pool := NewPool(testPoolConfig(), connector)

	c1, _ := pool.Acquire(context.Background(), time.Second)
	pool.Release(c1)

	time.Sleep(60 * time.Millisecond)
	removed := pool.HealthCheck()
	if removed != 1 {
		t.Fatalf("expected 1 stale idle connection removed, got %d", removed)
	}
	if pool.Stats().Current != 0 {
		t.Fatalf("expected pool emptied after health check removal")
	}
}

func TestPoolShutdownDestroysAllAndWakesWaiters(t *testing.T) {
	connector := &fakeConnector{}
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	pool := NewPool(cfg, connector)

	c1, _ := pool.Acquire(context.Background(), time.Second)
	_ = c1

	done := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	pool.Shutdown()

	select {
	case err := <-done:
		if err != ErrPoolClosed {
			t.Fatalf("expected waiter to observe ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by shutdown broadcast")
	}
}
