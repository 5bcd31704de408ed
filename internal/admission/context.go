// Package admission implements the gateway's HTTP request pipeline: per-
// request context population, the priority-ordered admission chain (the
// Conflict Priority Contract), Router error-code mapping, the registry
// validator's endpoints, server-sent events, and abuse-event tracking.
//
// Grounded on internal/controlplane/api/server.go (middleware chaining,
// clientIPFromRequest, header-driven rate-limit responses) and
// internal/controlplane/api/types.go (error envelope constructors).
package admission

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestContext is spec.md §3.1's per-request value, threaded through
// admission and forwarding.
type RequestContext struct {
	RequestID string
	TraceID   string
	TenantID  string
	RunID     string
}

// headerRequestID / headerTenantID / headerTraceID / headerTraceparent are
// the header names spec.md §4.1.3 names.
const (
	headerRequestID   = "X-Request-ID"
	headerTenantID    = "X-Tenant-ID"
	headerTraceID     = "X-Trace-ID"
	headerTraceparent = "traceparent"
	headerRunID       = "X-Run-ID"
	headerAuth        = "Authorization"
)

// PopulateContext extracts the §3.1 identifiers from r's headers,
// synthesizing a request id when the client sent no X-Request-ID header.
// trace id resolution against a traceparent happens in the tracing
// layer; this only extracts the raw header value.
func PopulateContext(r *http.Request) RequestContext {
	rc := RequestContext{
		TenantID: r.Header.Get(headerTenantID),
		TraceID:  r.Header.Get(headerTraceID),
		RunID:    r.Header.Get(headerRunID),
	}
	if rc.TraceID == "" {
		rc.TraceID = r.Header.Get(headerTraceparent)
	}
	rc.RequestID = r.Header.Get(headerRequestID)
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}
	return rc
}

type requestContextKey struct{}

// WithRequestContext attaches rc to ctx so downstream handlers can recover
// the already-populated identifiers without re-parsing headers.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFromContext returns the RequestContext attached by
// WithRequestContext, or the zero value if none was attached.
func RequestContextFromContext(ctx context.Context) RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(RequestContext)
	return rc
}

// AuthHeader returns the raw Authorization header value, or "" if absent.
func AuthHeader(r *http.Request) string {
	return r.Header.Get(headerAuth)
}

// ClientIPFromRequest resolves the caller's address, preferring
// X-Forwarded-For then X-Real-IP then the TCP remote address, matching the
// teacher's internal/controlplane/api/server.go clientIPFromRequest chain.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
