package admission

import "encoding/json"

// RouterReply is the parsed shape of a Router response envelope, the
// external collaborator spec.md §1 treats only as "a request-reply
// service returning a JSON envelope with a fixed error taxonomy".
type RouterReply struct {
	OK    bool            `json:"ok"`
	Error *RouterError    `json:"error,omitempty"`
	Body  json.RawMessage `json:"-"`
}

// RouterError is the Router's error object.
type RouterError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// routerErrorStatus is the result of mapping a Router reply to an HTTP
// status. Per spec.md §9 Open Question 4, "parse error" is kept distinct
// from "success" rather than both collapsing to the sentinel the C source
// used (status 0 meant both). ParseFailed must never be silently treated
// as 2xx.
type routerErrorStatus int

const (
	statusSuccess routerErrorStatus = iota
	statusParseFailed
	statusMapped
)

// ParseRouterReply parses body into a RouterReply, distinguishing a
// malformed reply (statusParseFailed) from both success and a well-formed
// error reply. Per spec.md §8 scenario 1, a successful Router reply
// carries no "ok" key at all (just the decision fields) — only failure
// replies are the explicit {"ok":false,"error":{...}} shape. So success is
// classified by the *absence* of an error object, not by reply.OK's value.
func ParseRouterReply(body []byte) (RouterReply, routerErrorStatus) {
	var reply RouterReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return RouterReply{}, statusParseFailed
	}
	reply.Body = body
	if reply.Error == nil {
		return reply, statusSuccess
	}
	return reply, statusMapped
}

// runtimeCodes classifies Router error codes per spec.md
// §4.1.2: "internal"/"unavailable" family => runtime; everything else
// => intake.
var runtimeCodes = map[string]bool{
	"internal":               true,
	"extension_unavailable":  true,
}

// routerCodeToHTTP maps a Router error code to an HTTP status, per
// spec.md §4.1.2's explicit table.
func routerCodeToHTTP(code string) int {
	switch code {
	case "invalid_request":
		return 400
	case "unauthorized":
		return 401
	case "policy_not_found", "extension_not_found":
		return 404
	case "validator_blocked":
		return 403
	case "extension_timeout":
		return 504
	case "extension_unavailable":
		return 503
	case "extension_error", "post_processor_failed", "decision_failed", "internal":
		return 500
	default:
		return 500
	}
}

// MapRouterError builds the GuardResult for a Router-originated failure,
// classifying it INTAKE (level 4) vs RUNTIME (level 5) by code family and
// preserving intake_error_code verbatim, per spec.md §4.1.2.
func MapRouterError(re RouterError) GuardResult {
	status := routerCodeToHTTP(re.Code)
	code := re.Code
	errType := ErrorTypeRouterIntake
	level := 4
	if runtimeCodes[re.Code] {
		errType = ErrorTypeRouterRuntime
		level = 5
	}
	return GuardResult{
		Level:      level,
		ErrorType:  errType,
		HTTPStatus: status,
		Code:       GatewayCode(re.Code),
		Message:    re.Message,
		IntakeCode: &code,
	}
}

// MapRouterParseFailure builds the GuardResult for a Router reply that
// could not be parsed at all (Open Question 4: this must map to 500
// "internal", never to a success path).
func MapRouterParseFailure() GuardResult {
	return GuardResult{
		Level:      5,
		ErrorType:  ErrorTypeRouterRuntime,
		HTTPStatus: 500,
		Code:       CodeInternal,
		Message:    "router reply could not be parsed",
	}
}

// MapBusUnavailable builds the GuardResult for when the bus itself could
// not be reached (resilience gate closed, pool exhausted, or a
// request-reply timeout), spec.md level 5 ROUTER_RUNTIME.
func MapBusUnavailable(message string) GuardResult {
	return GuardResult{
		Level:      5,
		ErrorType:  ErrorTypeRouterRuntime,
		HTTPStatus: 503,
		Code:       CodeUnavailable,
		Message:    message,
	}
}
