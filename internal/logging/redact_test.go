package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"log/slog"
)

func TestRedactsSensitiveAttrsCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	tmp, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.Close()

	l := New(Config{Component: "test", Writer: tmp})
	l.base.Info("request received",
		slog.String("Authorization", "Bearer abc123"),
		slog.String("X-Api-Key", "secret-value"),
		slog.String("user_id", "u1"),
	)

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		t.Fatal(err)
	}
	buf.Write(data)

	var rec map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("invalid json log line: %v\n%s", err, line)
	}

	if rec["Authorization"] != redactedPlaceholder {
		t.Errorf("Authorization not redacted: %v", rec["Authorization"])
	}
	if rec["X-Api-Key"] != redactedPlaceholder {
		t.Errorf("X-Api-Key not redacted: %v", rec["X-Api-Key"])
	}
	if rec["user_id"] != "u1" {
		t.Errorf("non-sensitive field altered: %v", rec["user_id"])
	}
}

func TestRedactStringInlineKeyValue(t *testing.T) {
	out := redactString("login attempt password=hunter2 user=bob")
	if strings.Contains(out, "hunter2") {
		t.Errorf("password leaked: %s", out)
	}
	if !strings.Contains(out, "user=bob") {
		t.Errorf("non-sensitive kv altered: %s", out)
	}
}

func TestRequestFieldsAlwaysPresent(t *testing.T) {
	ctx := WithFields(context.TODO(), Fields{RequestID: "r1"})
	f := FieldsFromContext(ctx)
	if f.RequestID != "r1" {
		t.Fatalf("expected request id r1, got %q", f.RequestID)
	}
	if f.TraceID != "" || f.TenantID != "" || f.RunID != "" {
		t.Fatalf("expected zero-value unset fields, got %+v", f)
	}
}
