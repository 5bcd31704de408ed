// Package logging implements the gateway's structured JSON log records.
//
// Every record is one JSON object per line on stderr, carrying the
// correlation identifiers of a RequestContext at the top level so that
// logs, metrics, and traces can always be joined.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Fields is a request-scoped set of correlation identifiers. Empty strings
// are emitted for unset values rather than omitted, so downstream log
// consumers can always rely on the keys being present.
type Fields struct {
	RequestID string
	TraceID   string
	TenantID  string
	RunID     string
}

type ctxKey struct{}

// WithFields returns a context carrying the given correlation fields, for
// later retrieval by Logger.Request.
func WithFields(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, ctxKey{}, f)
}

// FieldsFromContext returns the correlation fields stored by WithFields, or
// the zero value if none were attached.
func FieldsFromContext(ctx context.Context) Fields {
	f, _ := ctx.Value(ctxKey{}).(Fields)
	return f
}

// Logger wraps a *slog.Logger configured with the gateway's JSON handler
// and redaction pass. It is safe for concurrent use (slog handlers are).
type Logger struct {
	base *slog.Logger
}

// Config controls logger construction.
type Config struct {
	Component string
	Level     slog.Level
	Writer    *os.File // defaults to os.Stderr when nil
}

// New builds a Logger that writes redacted, microsecond-precision JSON
// records to cfg.Writer (stderr by default), matching the record shape of
// SPEC_FULL.md §4.9.1.
func New(cfg Config) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	h := &redactingHandler{
		next: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     cfg.Level,
			AddSource: false,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					if t, ok := a.Value.Any().(time.Time); ok {
						a.Value = slog.StringValue(t.UTC().Format("2006-01-02T15:04:05.000000Z"))
					}
				}
				return a
			},
		}),
	}
	base := slog.New(h).With(slog.String("component", cfg.Component))
	return &Logger{base: base}
}

// With returns a derived logger scoped to a sub-component, e.g.
// logger.With("ratelimit") for the rate-limiter subsystem's records.
func (l *Logger) With(component string) *Logger {
	return &Logger{base: l.base.With(slog.String("component", component))}
}

// Request returns a derived logger with the RequestContext identifiers of
// ctx attached at the top level of every subsequent record, per the
// §3.1 invariant that these four fields are always present.
func (l *Logger) Request(ctx context.Context) *Logger {
	f := FieldsFromContext(ctx)
	return &Logger{base: l.base.With(
		slog.String("request_id", f.RequestID),
		slog.String("trace_id", f.TraceID),
		slog.String("tenant_id", f.TenantID),
		slog.String("run_id", f.RunID),
	)}
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// Slog exposes the underlying *slog.Logger for callers that need it
// directly (mirroring the teacher's mixed slog/log.Printf call sites).
func (l *Logger) Slog() *slog.Logger { return l.base }
