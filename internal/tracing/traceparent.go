package tracing

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ParsedTraceparent is the decoded form of a W3C traceparent header,
// per spec.md §4.1.3: "00-<16B trace>-<8B span>-<flags>".
type ParsedTraceparent struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Flags   trace.TraceFlags
}

// ParseTraceparent parses a traceparent header value. It returns ok=false
// for anything not matching the fixed version-00 form, so callers fall
// back to starting a new root trace rather than erroring the request.
func ParseTraceparent(header string) (ParsedTraceparent, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 {
		return ParsedTraceparent{}, false
	}
	if parts[0] != "00" {
		return ParsedTraceparent{}, false
	}
	if len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return ParsedTraceparent{}, false
	}
	traceBytes, err := hex.DecodeString(parts[1])
	if err != nil {
		return ParsedTraceparent{}, false
	}
	spanBytes, err := hex.DecodeString(parts[2])
	if err != nil {
		return ParsedTraceparent{}, false
	}
	flagBytes, err := hex.DecodeString(parts[3])
	if err != nil {
		return ParsedTraceparent{}, false
	}
	var traceID trace.TraceID
	var spanID trace.SpanID
	copy(traceID[:], traceBytes)
	copy(spanID[:], spanBytes)
	if !traceID.IsValid() || !spanID.IsValid() {
		return ParsedTraceparent{}, false
	}
	return ParsedTraceparent{TraceID: traceID, SpanID: spanID, Flags: trace.TraceFlags(flagBytes[0])}, true
}

// FormatTraceparent renders the fixed-form W3C header per spec.md §4.9.3:
// "00-<32 hex>-<16 hex>-01".
func FormatTraceparent(traceID trace.TraceID, spanID trace.SpanID) string {
	return fmt.Sprintf("00-%s-%s-01", traceID, spanID)
}

// ContextFromTraceparent builds a trace.SpanContext suitable for use as a
// remote parent with trace.ContextWithRemoteSpanContext.
func ContextFromTraceparent(p ParsedTraceparent) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    p.TraceID,
		SpanID:     p.SpanID,
		TraceFlags: p.Flags,
		Remote:     true,
	})
}

// NewRootTraceID synthesizes a trace id when no traceparent was supplied
// and the request also lacks an X-Trace-ID header, using uuid for entropy
// the way the rest of the gateway generates request/message identifiers.
func NewRootTraceID() trace.TraceID {
	u := uuid.New()
	var id trace.TraceID
	copy(id[:], u[:])
	return id
}
