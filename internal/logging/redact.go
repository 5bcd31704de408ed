package logging

import (
	"context"
	"strings"

	"log/slog"
)

// sensitiveKeys is the case-insensitive set of attribute/header names whose
// values must never reach the log sink unredacted. Matching is substring,
// not exact, because header variants like X-Api-Key and body fields like
// api_key_hint must both be caught.
var sensitiveKeys = []string{
	"token", "api_key", "authorization", "password", "secret", "auth",
	"bearer", "key", "credit_card", "ssn", "email", "phone",
	"x-api-key", "x-auth-token", "x-authorization",
}

const redactedPlaceholder = "[REDACTED]"

func isSensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

// redactString masks sensitive-looking substrings embedded inside a free
// text message (e.g. "token=abc123"), replacing the value portion with
// "***" so structured and unstructured redaction have a single source of
// truth for the key list.
func redactString(s string) string {
	if !strings.ContainsAny(s, "=:") {
		return s
	}
	parts := strings.Fields(s)
	for i, p := range parts {
		if idx := strings.IndexAny(p, "=:"); idx > 0 {
			key := p[:idx]
			if isSensitiveKey(key) {
				parts[i] = key + string(p[idx]) + "***"
			}
		}
	}
	return strings.Join(parts, " ")
}

// redactingHandler wraps an slog.Handler, redacting the message text and
// any attribute (including nested group attributes) whose key matches the
// sensitive-key set before delegating to next.
type redactingHandler struct {
	next slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	r2 := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		r2.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, r2)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	red := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		red[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(red)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedPlaceholder)
	}
	if a.Value.Kind() == slog.KindGroup {
		grp := a.Value.Group()
		red := make([]slog.Attr, len(grp))
		for i, sub := range grp {
			red[i] = redactAttr(sub)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(red...)}
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, redactString(a.Value.String()))
	}
	return a
}
