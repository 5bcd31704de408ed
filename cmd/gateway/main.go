// Command gateway runs the API gateway process: the HTTP admission
// pipeline, the binary IPC server, the dedicated health port, and the bus
// bridge that forwards both onto the Router, wired in the dependency order
// of SPEC_FULL.md §2.4 (atomic counters → logging → metrics → tracing →
// buffer pool → breaker → rate limiter → bus resilience → bus pool → bus
// bridge → IPC protocol → IPC server → HTTP pipeline → health aggregator).
//
// Grounded on the teacher's cmd/server/main.go: environment/flag-driven
// construction, SIGINT/SIGTERM handling, and a bounded graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beamline/gateway/internal/admission"
	"github.com/beamline/gateway/internal/auditlog"
	"github.com/beamline/gateway/internal/backpressure"
	"github.com/beamline/gateway/internal/bus"
	"github.com/beamline/gateway/internal/config"
	"github.com/beamline/gateway/internal/health"
	"github.com/beamline/gateway/internal/ipc"
	"github.com/beamline/gateway/internal/logging"
	"github.com/beamline/gateway/internal/obsmetrics"
	"github.com/beamline/gateway/internal/ratelimit"
	"github.com/beamline/gateway/internal/tracing"
)

func main() {
	os.Exit(run())
}

// run builds and serves the gateway, returning the process exit code so
// main can stay a single os.Exit call (deferred cleanups still execute).
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: config: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{Component: "gateway", Level: slog.LevelInfo})

	metrics := obsmetrics.NewGatewayRegistry()

	ctx := context.Background()
	tracer, err := tracing.New(ctx, cfg.Tracing)
	if err != nil {
		log.Error("tracer construction failed", "error", err.Error())
		return 1
	}
	tracing.SetGlobal(tracer)

	limiter, err := ratelimit.New(cfg.RateLimiter, log.With("ratelimit"))
	if err != nil {
		log.Error("rate limiter construction failed", "error", err.Error())
		return 1
	}

	resilience := bus.NewResilienceState(cfg.Resilience)
	resilience.OnTransition(func(from, to bus.ConnectionState) {
		log.Info("bus resilience state transition", "from", from.String(), "to", to.String())
	})

	var requester bus.Requester
	var pool *bus.Pool
	if cfg.IPC.NATSEnable {
		connector := &bus.NATSConnector{URL: cfg.IPC.NATSURL, ConnectTimeout: cfg.BusPool.ConnectionTimeout}
		pool = bus.NewPool(cfg.BusPool, connector)
		requester = bus.NewNATSRequester(pool, cfg.BusPool)

		warmupCtx, warmupCancel := context.WithTimeout(context.Background(), cfg.BusPool.ConnectionTimeout)
		if conn, err := pool.Acquire(warmupCtx, cfg.BusPool.ConnectionTimeout); err != nil {
			log.Warn("initial bus connection failed, starting disconnected", "error", err.Error())
		} else {
			pool.Release(conn)
			resilience.MarkConnected()
		}
		warmupCancel()
	} else {
		requester = bus.StubRequester{}
		resilience.MarkConnected()
		log.Warn("bus running in stub mode", "reason", "CGW_IPC_NATS_ENABLE=false")
	}

	bridgeTimeout := time.Duration(cfg.IPC.TimeoutMS) * time.Millisecond
	bridge := bus.NewBridge(bus.BridgeConfig{Subject: cfg.BridgeSubject, RequestTimeout: bridgeTimeout}, requester, resilience)

	bpProbe := backpressure.New(cfg.Backpressure)

	audit, err := auditlog.Open(cfg.AuditLogPath)
	if err != nil {
		log.Warn("audit log unavailable, continuing without persistence", "error", err.Error())
		audit = nil
	}

	registry := admission.NewRegistry()

	healthAgg := health.New()
	healthAgg.Register(health.Check{
		Name:     "nats_connection",
		Critical: true,
		Probe: func() bool {
			s := resilience.State()
			return s == bus.Connected || s == bus.Degraded
		},
	})

	var ipcServer *ipc.Server
	if cfg.IPC.Enable {
		ipcServer = ipc.NewServer(ipc.Config{
			SocketPath:     cfg.IPC.SocketPath,
			MaxConnections: cfg.IPC.MaxConnections,
		}, bus.NewIPCHandler(bridge, bridgeTimeout, log.With("ipc")), log.With("ipc"))
		ipcServer.OnConnectionCountChange(func(n int) {
			metrics.SetGauge(obsmetrics.IPCConnectionsActive, float64(n))
		})
		healthAgg.Register(health.Check{
			Name:     "ipc_server",
			Critical: true,
			Probe:    ipcServer.SocketExists,
		})
		if err := ipcServer.Start(); err != nil {
			log.Error("ipc server start failed", "error", err.Error())
			return 1
		}
	}
	healthAgg.Register(health.NonCriticalCheck())

	httpServer := admission.NewServer(admission.ServerConfig{
		Addr:             fmt.Sprintf(":%d", cfg.GatewayPort),
		AuthRequired:     cfg.AuthRequired,
		DecideSubject:    cfg.BridgeSubject,
		RequestBodyLimit: 1 << 20,
	}, limiter, bpProbe, bridge, tracer, log.With("http"), metrics, audit, registry, healthAgg)
	if err := httpServer.Start(); err != nil {
		log.Error("http server start failed", "error", err.Error())
		return 1
	}
	log.Info("http pipeline listening", "addr", httpServer.Addr())

	healthServer := health.NewServer(health.ServerConfig{Addr: fmt.Sprintf(":%d", cfg.HealthPort)}, healthAgg, metrics)
	if err := healthServer.Start(); err != nil {
		log.Error("health server start failed", "error", err.Error())
		return 1
	}
	log.Info("health server listening", "addr", healthServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		log.Warn("http server shutdown error", "error", err.Error())
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		log.Warn("health server shutdown error", "error", err.Error())
	}
	if ipcServer != nil {
		ipcServer.Stop()
	}
	if pool != nil {
		pool.Shutdown()
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown error", "error", err.Error())
	}
	if audit != nil {
		if err := audit.Close(); err != nil {
			log.Warn("audit log close error", "error", err.Error())
		}
	}

	log.Info("gateway stopped")
	return 0
}
