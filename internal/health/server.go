package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/beamline/gateway/internal/obsmetrics"
)

// ServerConfig configures the dedicated health port.
type ServerConfig struct {
	Addr string
}

// Server is spec.md §4.10/§5's independent health HTTP loop: its own
// listener and http.Server, separate from the main request pipeline, that
// answers liveness/readiness/metrics even when that pipeline is saturated
// or blocked. Connections are served by net/http's goroutine-per-connection
// model, not by one single thread. Grounded
// on the teacher's server.go Start/Shutdown lifecycle applied to a much
// smaller route set.
type Server struct {
	cfg     ServerConfig
	agg     *Aggregator
	metrics *obsmetrics.Registry

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds a health Server reporting on agg and metrics.
func NewServer(cfg ServerConfig, agg *Aggregator, metrics *obsmetrics.Registry) *Server {
	return &Server{cfg: cfg, agg: agg, metrics: metrics}
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /_health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetricsText)
	mux.HandleFunc("GET /_metrics", s.handleMetricsJSON)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = s.httpServer.Serve(listener)
	}()
	return nil
}

// Addr returns the bound listener address, useful when cfg.Addr used port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, failing := s.agg.Ready()
	if ready {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status":  "unhealthy",
		"message": fmt.Sprintf("Not ready: %d critical checks failing", failing),
	})
}

func (s *Server) handleMetricsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.metrics.Expose()))
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	status, results := s.agg.Evaluate()
	stats, _ := ReadProcessStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"health":             status,
		"checks":             results,
		"process_resources":  stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := json.Marshal(v)
	_, _ = w.Write(append(b, '\n'))
}
