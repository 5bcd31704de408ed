package admission

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/beamline/gateway/internal/auditlog"
	"github.com/beamline/gateway/internal/ratelimit"
)

// messagePayload is the minimal shape the gateway understands for a message
// mutation; everything else in the body is forwarded to the Router
// untouched via the bus bridge.
type messagePayload struct {
	ID string `json:"id,omitempty"`
}

func (s *Server) handleMessageCreate(w http.ResponseWriter, r *http.Request) {
	s.handleMessageMutation(w, r, "", "message_created")
}

func (s *Server) handleMessageUpdate(w http.ResponseWriter, r *http.Request) {
	s.handleMessageMutation(w, r, r.PathValue("id"), "message_updated")
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	s.handleMessageMutation(w, r, r.PathValue("id"), "message_deleted")
}

// handleMessageMutation forwards a message create/update/delete to the
// Router and, on success, publishes the SSE event named by eventName to
// the tenant's subscribers, per spec.md §4.1.4.
func (s *Server) handleMessageMutation(w http.ResponseWriter, r *http.Request, id, eventName string) {
	rc := RequestContextFromContext(r.Context())
	clientKey := clientKeyFor(r)

	if gr := s.chain().Admit(r.Context(), ratelimit.EndpointMessages, rc.TenantID, clientKey, AuthHeader(r), false); gr != nil {
		s.reject(w, rc, *gr)
		return
	}
	if rc.TenantID == "" {
		s.reject(w, rc, requestGatewayError("missing X-Tenant-ID header"))
		return
	}

	var body []byte
	var err error
	if r.Method != http.MethodDelete {
		body, err = readLimited(r, s.cfg.RequestBodyLimit)
		malformed := err != nil || !json.Valid(body)
		s.detector.TrackRequest(rc.TenantID, clientKey, len(body), malformed)
		if malformed {
			s.reject(w, rc, requestGatewayError("malformed or oversized request body"))
			return
		}
	} else {
		body, _ = json.Marshal(messagePayload{ID: id})
	}

	reply, err := s.bridge.Forward(r.Context(), rc.TenantID, "", body)
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
	s.auditRecord(auditlog.KindAdmissionAllowed, rc, http.StatusOK)

	eventID := id
	if eventID == "" {
		eventID = uuid.NewString()
	}
	s.broadcaster.Publish(rc.TenantID, MessageEvent{
		Name: eventName,
		Data: map[string]any{"id": eventID, "tenant_id": rc.TenantID},
	})
}

// handleMessagesStream implements GET /api/v1/messages/stream?tenant_id=T.
func (s *Server) handleMessagesStream(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = rc.TenantID
	}
	if tenantID == "" {
		s.reject(w, rc, requestGatewayError("missing tenant_id query parameter"))
		return
	}
	s.broadcaster.ServeStream(w, r, tenantID)
}
