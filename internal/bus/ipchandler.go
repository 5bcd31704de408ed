package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/beamline/gateway/internal/ipc"
	"github.com/beamline/gateway/internal/logging"
)

// ipcTaskFields is the subset of a TASK_SUBMIT/TASK_QUERY/TASK_CANCEL
// payload the bridge needs to address the Router, per spec.md §4.6's
// envelope (tenant_id, policy_id). Everything else in the payload is
// forwarded to Router untouched as Envelope.Input.
type ipcTaskFields struct {
	TenantID string `json:"tenant_id"`
	PolicyID string `json:"policy_id"`
}

// NewIPCHandler adapts a Bridge into an ipc.Handler, implementing spec.md
// §4.6's "for non-control messages, wrap the payload in a bus envelope,
// perform a request-reply, and the reply becomes the response payload
// verbatim" — grounded on the same Forward call the HTTP pipeline uses,
// so both transports share one bridging implementation.
func NewIPCHandler(bridge *Bridge, timeout time.Duration, log *logging.Logger) ipc.Handler {
	return func(ctx context.Context, m ipc.Message) ipc.Message {
		var fields ipcTaskFields
		_ = json.Unmarshal(m.Payload, &fields)

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reply, err := bridge.Forward(reqCtx, fields.TenantID, fields.PolicyID, m.Payload)
		if err != nil {
			log.Warn("ipc bridge forward failed", "error", err.Error())
			code := ipc.ErrCodeInternal
			if reqCtx.Err() == context.DeadlineExceeded {
				code = ipc.ErrCodeTimeout
			}
			return ipc.Message{
				Type:    ipc.ResponseError,
				Payload: ipc.ErrorMessage(code, err.Error()),
			}
		}
		return ipc.Message{Type: ipc.ResponseOK, Payload: reply}
	}
}
