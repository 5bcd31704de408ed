package admission

import (
	"encoding/json"
	"net/http"

	"github.com/beamline/gateway/internal/auditlog"
	"github.com/beamline/gateway/internal/ratelimit"
)

// decisionMessageID extracts the "message_id" field the Router's reply
// carries (spec.md §8 scenario 1's reply echoes the request's own
// request_id as message_id), falling back to the request's own
// request_id when the reply omits it, so GET
// /api/v1/routes/decide/{message_id} can look the decision back up by an
// id the caller already knows.
func decisionMessageID(reply []byte, requestID string) string {
	var probe struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(reply, &probe); err == nil && probe.MessageID != "" {
		return probe.MessageID
	}
	return requestID
}

// clientKeyFor resolves the rate-limiter/abuse-detector identity: the
// Authorization header when present (treated as an opaque API key), else
// the client IP, per spec.md §4.3's check(endpoint, tenant_id, api_key).
func clientKeyFor(r *http.Request) string {
	if auth := AuthHeader(r); auth != "" {
		return auth
	}
	return ClientIPFromRequest(r)
}

// requestGatewayError builds the level-3 REQUEST_GATEWAY guard result for a
// malformed or incomplete request body, per spec.md §4.1's table.
func requestGatewayError(message string) GuardResult {
	return GuardResult{
		Level:      3,
		ErrorType:  ErrorTypeRequestGateway,
		HTTPStatus: 400,
		Code:       CodeInvalidRequest,
		Message:    message,
	}
}

// handleDecide implements POST /api/v1/routes/decide: the primary routing
// decision forwarded to the Router over the bus bridge.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	clientKey := clientKeyFor(r)

	if gr := s.chain().Admit(r.Context(), ratelimit.EndpointRoutesDecide, rc.TenantID, clientKey, AuthHeader(r), true); gr != nil {
		s.reject(w, rc, *gr)
		return
	}
	if rc.TenantID == "" {
		s.reject(w, rc, requestGatewayError("missing X-Tenant-ID header"))
		return
	}

	body, err := readLimited(r, s.cfg.RequestBodyLimit)
	malformed := err != nil || !json.Valid(body)
	s.detector.TrackRequest(rc.TenantID, clientKey, len(body), malformed)
	if malformed {
		s.reject(w, rc, requestGatewayError("malformed or oversized request body"))
		return
	}

	policyID := r.URL.Query().Get("policy_id")
	reply, err := s.bridge.Forward(r.Context(), rc.TenantID, policyID, body)
	if err != nil {
		s.reject(w, rc, MapBusUnavailable(err.Error()))
		return
	}

	parsed, status := ParseRouterReply(reply)
	switch status {
	case statusParseFailed:
		s.reject(w, rc, MapRouterParseFailure())
		return
	case statusMapped:
		s.reject(w, rc, MapRouterError(*parsed.Error))
		return
	}

	respBody := WriteSuccess(w, rc, parsed.Body)
	s.decisions.Put(decisionMessageID(parsed.Body, rc.RequestID), http.StatusOK, respBody)
	s.auditRecord(auditlog.KindAdmissionAllowed, rc, http.StatusOK)
}

// handleDecideLookup implements GET /api/v1/routes/decide/{message_id}.
func (s *Server) handleDecideLookup(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	id := r.PathValue("message_id")
	status, body, ok := s.decisions.Get(id)
	if !ok {
		s.reject(w, rc, GuardResult{
			Level: 3, ErrorType: ErrorTypeRequestGateway, HTTPStatus: 404,
			Code: CodeNotFound, Message: "no decision recorded for message_id",
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// forwardAdminPassthrough implements the thin bus-bridge forwarders of
// SPEC_FULL.md §4.1.6: dry-run and complexity queries reuse the decide
// path's Router error-code mapping verbatim.
func (s *Server) forwardAdminPassthrough(w http.ResponseWriter, r *http.Request, endpoint ratelimit.Endpoint, tenantID, policyID string, payload []byte) {
	rc := RequestContextFromContext(r.Context())

	reply, err := s.bridge.Forward(r.Context(), tenantID, policyID, payload)
	if err != nil {
		s.reject(w, rc, MapBusUnavailable(err.Error()))
		return
	}
	parsed, status := ParseRouterReply(reply)
	switch status {
	case statusParseFailed:
		s.reject(w, rc, MapRouterParseFailure())
		return
	case statusMapped:
		s.reject(w, rc, MapRouterError(*parsed.Error))
		return
	}
	WriteSuccess(w, rc, parsed.Body)
}

func (s *Server) handlePolicyDryRun(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	clientKey := clientKeyFor(r)
	if gr := s.chain().Admit(r.Context(), ratelimit.EndpointRoutesDecide, rc.TenantID, clientKey, AuthHeader(r), false); gr != nil {
		s.reject(w, rc, *gr)
		return
	}
	body, err := readLimited(r, s.cfg.RequestBodyLimit)
	if err != nil || !json.Valid(body) {
		s.reject(w, rc, requestGatewayError("malformed or oversized request body"))
		return
	}
	s.forwardAdminPassthrough(w, r, ratelimit.EndpointRoutesDecide, rc.TenantID, r.URL.Query().Get("policy_id"), body)
}

func (s *Server) handlePolicyComplexity(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	clientKey := clientKeyFor(r)
	if gr := s.chain().Admit(r.Context(), ratelimit.EndpointRoutesDecide, rc.TenantID, clientKey, AuthHeader(r), false); gr != nil {
		s.reject(w, rc, *gr)
		return
	}
	tenant := r.PathValue("tenant")
	policy := r.PathValue("policy")
	req, _ := json.Marshal(map[string]string{"tenant": tenant, "policy": policy, "query": "complexity"})
	s.forwardAdminPassthrough(w, r, ratelimit.EndpointRoutesDecide, tenant, policy, req)
}

func (s *Server) handleExtensionsHealth(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	req, _ := json.Marshal(map[string]string{"query": "extensions_health"})
	s.forwardAdminPassthrough(w, r, ratelimit.EndpointRoutesDecide, rc.TenantID, "", req)
}
