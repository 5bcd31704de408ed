package admission

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/beamline/gateway/internal/ratelimit"
)

func (s *Server) handleRegistryPut(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	clientKey := clientKeyFor(r)
	typ, version := r.PathValue("type"), r.PathValue("version")

	if gr := s.chain().Admit(r.Context(), ratelimit.EndpointRegistryBlocks, rc.TenantID, clientKey, AuthHeader(r), false); gr != nil {
		s.reject(w, rc, *gr)
		return
	}

	body, err := readLimited(r, s.cfg.RequestBodyLimit)
	if err != nil || !json.Valid(body) {
		s.reject(w, rc, requestGatewayError("malformed or oversized request body"))
		return
	}
	var manifest BlockManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		s.reject(w, rc, requestGatewayError("request body is not a valid manifest"))
		return
	}

	if err := s.registry.Put(typ, version, manifest); err != nil {
		switch e := err.(type) {
		case *MismatchError:
			s.reject(w, rc, GuardResult{
				Level: 3, ErrorType: ErrorTypeRequestGateway, HTTPStatus: 409,
				Code: CodeConflict, Message: e.Error(),
			})
		case *ValidationError:
			details := map[string]any{}
			for i, ve := range e.Errors {
				details[strconv.Itoa(i)] = ve.Error()
			}
			s.reject(w, rc, GuardResult{
				Level: 3, ErrorType: ErrorTypeRequestGateway, HTTPStatus: 400,
				Code: CodeInvalidSchema, Message: "schema validation failed", Details: details,
			})
		case *CapacityError:
			s.reject(w, rc, GuardResult{
				Level: 6, ErrorType: ErrorTypeInternal, HTTPStatus: 500,
				Code: CodeInternal, Message: e.Error(),
			})
		default:
			s.reject(w, rc, GuardResult{
				Level: 6, ErrorType: ErrorTypeInternal, HTTPStatus: 500,
				Code: CodeInternal, Message: err.Error(),
			})
		}
		return
	}

	stored, _ := s.registry.Get(typ, version)
	body, _ = MarshalManifest(stored)
	WriteSuccess(w, rc, body)
}

func (s *Server) handleRegistryGet(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	typ, version := r.PathValue("type"), r.PathValue("version")
	manifest, ok := s.registry.Get(typ, version)
	if !ok {
		s.reject(w, rc, GuardResult{
			Level: 3, ErrorType: ErrorTypeRequestGateway, HTTPStatus: 404,
			Code: CodeNotFound, Message: "no manifest registered for (type, version)",
		})
		return
	}
	body, _ := MarshalManifest(manifest)
	WriteSuccess(w, rc, body)
}

func (s *Server) handleRegistryDelete(w http.ResponseWriter, r *http.Request) {
	rc := RequestContextFromContext(r.Context())
	clientKey := clientKeyFor(r)
	typ, version := r.PathValue("type"), r.PathValue("version")

	if gr := s.chain().Admit(r.Context(), ratelimit.EndpointRegistryBlocks, rc.TenantID, clientKey, AuthHeader(r), false); gr != nil {
		s.reject(w, rc, *gr)
		return
	}

	if !s.registry.Delete(typ, version) {
		s.reject(w, rc, GuardResult{
			Level: 3, ErrorType: ErrorTypeRequestGateway, HTTPStatus: 404,
			Code: CodeNotFound, Message: "no manifest registered for (type, version)",
		})
		return
	}
	WriteSuccess(w, rc, []byte(`{"deleted":true}`))
}

