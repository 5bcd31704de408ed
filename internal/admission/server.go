package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/beamline/gateway/internal/auditlog"
	"github.com/beamline/gateway/internal/backpressure"
	"github.com/beamline/gateway/internal/bus"
	"github.com/beamline/gateway/internal/health"
	"github.com/beamline/gateway/internal/logging"
	"github.com/beamline/gateway/internal/obsmetrics"
	"github.com/beamline/gateway/internal/ratelimit"
	"github.com/beamline/gateway/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ServerConfig configures Server construction.
type ServerConfig struct {
	Addr               string
	AuthRequired       bool
	DecideSubject      string // unused directly; kept for symmetry with bridge config, forwarded via Bridge
	RequestBodyLimit   int64
}

// Server is the gateway's HTTP request pipeline of spec.md §4.1, grounded
// on the teacher's internal/controlplane/api/server.go Start/Shutdown
// lifecycle (mux, listener, http.Server timeouts) generalized from its
// control-plane routes to the routing-gateway route table.
type Server struct {
	cfg ServerConfig

	limiter      ratelimit.Limiter
	backpressure *backpressure.Probe
	bridge       *bus.Bridge
	tracer       *tracing.Tracer
	log          *logging.Logger
	metrics      *obsmetrics.Registry
	audit        *auditlog.Log
	detector     *Detector
	registry     *Registry
	broadcaster  *Broadcaster
	decisions    *DecisionStore
	health       *health.Aggregator

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires every subsystem into a Server ready for Start.
func NewServer(
	cfg ServerConfig,
	limiter ratelimit.Limiter,
	bp *backpressure.Probe,
	bridge *bus.Bridge,
	tracer *tracing.Tracer,
	log *logging.Logger,
	metrics *obsmetrics.Registry,
	audit *auditlog.Log,
	reg *Registry,
	ha *health.Aggregator,
) *Server {
	if cfg.RequestBodyLimit <= 0 {
		cfg.RequestBodyLimit = 1 << 20
	}
	return &Server{
		cfg:          cfg,
		limiter:      limiter,
		backpressure: bp,
		bridge:       bridge,
		tracer:       tracer,
		log:          log,
		metrics:      metrics,
		audit:        audit,
		detector:     NewDetector(metrics),
		registry:     reg,
		broadcaster:  NewBroadcaster(),
		decisions:    NewDecisionStore(),
		health:       ha,
	}
}

func (s *Server) chain() *Chain {
	return &Chain{
		Limiter:      s.limiter,
		Backpressure: s.backpressure,
		AuthRequired: s.cfg.AuthRequired,
		Metrics:      s.metrics,
	}
}

// Start binds the listener and begins serving in the background, mirroring
// the teacher's http.Server timeout profile (slowloris protection via
// ReadHeaderTimeout).
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admission: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.instrument(mux),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server exited", "error", err.Error())
		}
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

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /_health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetricsText)
	mux.HandleFunc("GET /_metrics", s.handleMetricsJSON)

	mux.HandleFunc("POST /api/v1/routes/decide", s.handleDecide)
	mux.HandleFunc("GET /api/v1/routes/decide/{message_id}", s.handleDecideLookup)

	mux.HandleFunc("POST /api/v1/messages", s.handleMessageCreate)
	mux.HandleFunc("PUT /api/v1/messages/{id}", s.handleMessageUpdate)
	mux.HandleFunc("DELETE /api/v1/messages/{id}", s.handleMessageDelete)
	mux.HandleFunc("GET /api/v1/messages/stream", s.handleMessagesStream)

	mux.HandleFunc("POST /api/v1/registry/blocks/{type}/{version}", s.handleRegistryPut)
	mux.HandleFunc("PUT /api/v1/registry/blocks/{type}/{version}", s.handleRegistryPut)
	mux.HandleFunc("DELETE /api/v1/registry/blocks/{type}/{version}", s.handleRegistryDelete)
	mux.HandleFunc("GET /api/v1/registry/blocks/{type}/{version}", s.handleRegistryGet)

	mux.HandleFunc("GET /api/v1/extensions/health", s.handleExtensionsHealth)
	mux.HandleFunc("GET /api/v1/extensions/circuit-breakers", s.handleCircuitBreakers)
	mux.HandleFunc("POST /api/v1/policies/dry-run", s.handlePolicyDryRun)
	mux.HandleFunc("GET /api/v1/policies/{tenant}/{policy}/complexity", s.handlePolicyComplexity)
}

// instrument wraps mux with per-request tracing, timing, and the
// http_requests_total / http_request_duration_seconds metrics of spec.md
// §4.9.2, grounded on the server span population rules of §4.1.3.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rc := PopulateContext(r)
		ctx := logging.WithFields(r.Context(), logging.Fields{
			RequestID: rc.RequestID, TraceID: rc.TraceID, TenantID: rc.TenantID, RunID: rc.RunID,
		})

		spanCtx, span := s.startRequestSpan(ctx, r, rc)
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("tenant_id", rc.TenantID),
			attribute.String("request_id", rc.RequestID),
			attribute.String("trace_id", rc.TraceID),
		)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(WithRequestContext(spanCtx, rc))
		next.ServeHTTP(sw, r)

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		if s.metrics != nil {
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			s.metrics.Inc(obsmetrics.HTTPRequestsTotal, 1,
				[2]string{"route", route}, [2]string{"status", fmt.Sprintf("%d", sw.status)})
			s.metrics.Observe(obsmetrics.HTTPRequestDurationSecond, time.Since(start).Seconds(),
				[2]string{"route", route})
		}
	})
}

// startRequestSpan starts the server span as a child of a well-formed
// inbound traceparent, or as a new root trace otherwise, per spec.md
// §4.1.3.
func (s *Server) startRequestSpan(ctx context.Context, r *http.Request, rc RequestContext) (context.Context, trace.Span) {
	if parsed, ok := tracing.ParseTraceparent(r.Header.Get("traceparent")); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, tracing.ContextFromTraceparent(parsed))
	}
	return s.tracer.StartSpan(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path), tracing.KindServer)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, failing := s.health.Ready()
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
	status, results := s.health.Evaluate()
	stats, _ := health.ReadProcessStats()
	busSnapshot := s.bridge.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"health":            status,
		"checks":            results,
		"process_resources": stats,
		"bus":               busSnapshot,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := json.Marshal(v)
	_, _ = w.Write(append(b, '\n'))
}

// reject writes gr as the standard error envelope and logs/audits the
// terminal decision at the severity spec.md §4.1's table names.
func (s *Server) reject(w http.ResponseWriter, rc RequestContext, gr GuardResult) {
	WriteError(w, rc, gr)
	reqLog := s.log.Request(logging.WithFields(context.Background(), logging.Fields{
		RequestID: rc.RequestID, TraceID: rc.TraceID, TenantID: rc.TenantID, RunID: rc.RunID,
	}))
	logFn := reqLog.Warn
	if gr.Level >= 4 {
		logFn = reqLog.Error
	}
	var intakeCode string
	if gr.IntakeCode != nil {
		intakeCode = *gr.IntakeCode
	}
	logFn("admission rejected",
		"error_type", string(gr.ErrorType),
		"http_status", gr.HTTPStatus,
		"gateway_error_code", string(gr.Code),
		"intake_error_code", intakeCode,
		"conflict_priority_level", gr.Level,
	)
	s.auditRecord(auditlog.KindAdmissionDenied, rc, gr.HTTPStatus)
}

// auditRecord appends one entry to the audit log, when configured. A write
// failure is logged but never propagated to the request path.
func (s *Server) auditRecord(kind auditlog.Kind, rc RequestContext, httpStatus int) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"request_id": rc.RequestID,
		"trace_id":   rc.TraceID,
		"tenant_id":  rc.TenantID,
		"http_status": httpStatus,
	})
	if err := s.audit.Record(kind, payload); err != nil {
		s.log.Warn("audit log write failed", "error", err.Error())
	}
}

// readLimited reads r's body up to limit+1 bytes, reporting an error if the
// body exceeds limit (the extra byte distinguishes "exactly limit bytes"
// from "too large" without buffering the whole oversized body).
func readLimited(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	lr := &io.LimitedReader{R: r.Body, N: limit + 1}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("admission: request body exceeds %d bytes", limit)
	}
	return body, nil
}
