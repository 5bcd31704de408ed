package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beamline/gateway/internal/bus"
	"github.com/beamline/gateway/internal/health"
	"github.com/beamline/gateway/internal/logging"
	"github.com/beamline/gateway/internal/obsmetrics"
	"github.com/beamline/gateway/internal/ratelimit"
	"github.com/beamline/gateway/internal/tracing"
)

// stubRequester is a bus.Requester double that returns a fixed reply or
// error, letting tests drive the Router-response side of the admission
// chain without a real NATS peer.
type stubRequester struct {
	reply []byte
	err   error
}

func (s *stubRequester) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter, requester bus.Requester) *Server {
	t.Helper()
	state := bus.NewResilienceState(bus.ResilienceConfig{
		MaxInflight:       64,
		DegradedThreshold: 3,
		MinBackoff:        10 * time.Millisecond,
		MaxBackoff:        time.Second,
	})
	state.MarkConnected()
	bridge := bus.NewBridge(bus.BridgeConfig{
		Subject:        "beamline.router.v1.decide",
		RequestTimeout: time.Second,
	}, requester, state)

	ha := health.New()
	ha.Register(health.Check{Name: "nats_connection", Critical: true, Probe: func() bool { return true }})

	log := logging.New(logging.Config{Component: "test"})
	metrics := obsmetrics.New()

	return NewServer(ServerConfig{
		AuthRequired:     false,
		RequestBodyLimit: 1 << 20,
	}, limiter, nil, bridge, tracing.Noop(), log, metrics, nil, NewRegistry(), ha)
}

func decodeRequest(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rec.Body.String())
	}
	return env
}

// scenario 1: a successful decide call returns 200 with the bus reply
// verbatim, per spec.md §8 scenario 1.
func TestHandleDecide_Success(t *testing.T) {
	reply := []byte(`{"message_id":"r1","provider_id":"p1","reason":"stub","priority":1}`)
	srv := newTestServer(t, ratelimit.NewMemoryLimiter(ratelimit.Config{WindowSeconds: 60, GlobalLimit: 1000}, nil), &stubRequester{reply: reply})

	body := []byte(`{"version":"1","tenant_id":"t","request_id":"r1","task":{"type":"t","payload":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/decide", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t")
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	srv.instrument(mux).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != string(reply)+"\n" {
		t.Fatalf("body = %q, want bus reply verbatim %q", got, string(reply)+"\n")
	}
}

// scenario 2: missing X-Tenant-ID is a level-3 REQUEST_GATEWAY 400.
func TestHandleDecide_MissingTenant(t *testing.T) {
	srv := newTestServer(t, ratelimit.NewMemoryLimiter(ratelimit.Config{WindowSeconds: 60, GlobalLimit: 1000}, nil), &stubRequester{reply: []byte(`{}`)})

	body := []byte(`{"version":"1","request_id":"r1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/decide", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeRequest(t, rec)
	if env.Error.Code != CodeInvalidRequest {
		t.Errorf("error.code = %q, want invalid_request", env.Error.Code)
	}
	if env.Error.IntakeErrorCode != nil {
		t.Errorf("intake_error_code = %v, want nil", *env.Error.IntakeErrorCode)
	}
}

// scenario 3: the (limit+1)-th call within a window is rejected 429 with
// the rate-limit headers populated.
func TestHandleDecide_RateLimitExceeded(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{WindowSeconds: 60, GlobalLimit: 2}, nil)
	srv := newTestServer(t, limiter, &stubRequester{reply: []byte(`{"message_id":"r1"}`)})
	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	body := []byte(`{"version":"1","tenant_id":"t","request_id":"r1","task":{"type":"t","payload":{}}}`)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/decide", bytes.NewReader(body))
		req.Header.Set("X-Tenant-ID", "t")
		rec := httptest.NewRecorder()
		srv.instrument(mux).ServeHTTP(rec, req)
		last = rec
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body=%s", last.Code, last.Body.String())
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Errorf("Retry-After header missing")
	}
	env := decodeRequest(t, last)
	if env.Error.Code != CodeRateLimitExceeded {
		t.Errorf("error.code = %q, want rate_limit_exceeded", env.Error.Code)
	}
}

// scenario 7: a Router intake error (policy_not_found) maps to 404 with
// the intake code preserved verbatim.
func TestHandleDecide_RouterIntakeError(t *testing.T) {
	reply := []byte(`{"ok":false,"error":{"code":"policy_not_found","message":"x"}}`)
	srv := newTestServer(t, ratelimit.NewMemoryLimiter(ratelimit.Config{WindowSeconds: 60, GlobalLimit: 1000}, nil), &stubRequester{reply: reply})

	body := []byte(`{"version":"1","tenant_id":"t","request_id":"r1","task":{"type":"t","payload":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/decide", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t")
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	srv.instrument(mux).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
	env := decodeRequest(t, rec)
	if env.Error.IntakeErrorCode == nil || *env.Error.IntakeErrorCode != "policy_not_found" {
		t.Errorf("intake_error_code = %v, want policy_not_found", env.Error.IntakeErrorCode)
	}
}

// scenario 8: GET /ready with a failing critical probe returns 503 with
// the exact message shape spec.md §8 scenario 8 names.
func TestHandleReady_CriticalFailure(t *testing.T) {
	srv := newTestServer(t, ratelimit.NewMemoryLimiter(ratelimit.Config{WindowSeconds: 60, GlobalLimit: 1000}, nil), &stubRequester{reply: []byte(`{}`)})
	srv.health = health.New()
	srv.health.Register(health.Check{Name: "nats_connection", Critical: true, Probe: func() bool { return false }})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status field = %v, want unhealthy", body["status"])
	}
	if body["message"] != "Not ready: 1 critical checks failing" {
		t.Errorf("message = %v", body["message"])
	}
}

// GET /api/v1/routes/decide/{message_id} looks a prior decision back up by
// the Router reply's own message_id, not an id the caller never learns.
func TestHandleDecide_LookupByMessageID(t *testing.T) {
	reply := []byte(`{"message_id":"r1","provider_id":"p1"}`)
	srv := newTestServer(t, ratelimit.NewMemoryLimiter(ratelimit.Config{WindowSeconds: 60, GlobalLimit: 1000}, nil), &stubRequester{reply: reply})
	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	body := []byte(`{"version":"1","tenant_id":"t","request_id":"r1","task":{"type":"t","payload":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/decide", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "t")
	rec := httptest.NewRecorder()
	srv.instrument(mux).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d, body=%s", rec.Code, rec.Body.String())
	}

	lookup := httptest.NewRequest(http.MethodGet, "/api/v1/routes/decide/r1", nil)
	lrec := httptest.NewRecorder()
	mux.ServeHTTP(lrec, lookup)
	if lrec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d, body=%s", lrec.Code, lrec.Body.String())
	}
	if lrec.Body.String() != string(reply)+"\n" {
		t.Errorf("lookup body = %q, want %q", lrec.Body.String(), string(reply)+"\n")
	}
}
