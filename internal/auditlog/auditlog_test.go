package auditlog

import (
	"path/filepath"
	"testing"
)

func TestRecordAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Record(KindAdmissionAllowed, []byte(`{"request_id":"r1"}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(KindIPCRequest, nil); err != nil {
		t.Fatalf("record empty payload: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var entries []Entry
	n, err := Replay(path, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if entries[0].Type != KindAdmissionAllowed || string(entries[0].Payload) != `{"request_id":"r1"}` {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Type != KindIPCRequest || len(entries[1].Payload) != 0 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestRotateStartsFreshFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	if err := l.Record(KindAdmissionAllowed, []byte("a")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Rotate("20260101"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := l.Record(KindAdmissionAllowed, []byte("b")); err != nil {
		t.Fatalf("record after rotate: %v", err)
	}

	n, err := Replay(path+".20260101", func(Entry) bool { return true })
	if err != nil {
		t.Fatalf("replay rotated: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry in rotated file, got %d", n)
	}

	n, err = Replay(path, func(Entry) bool { return true })
	if err != nil {
		t.Fatalf("replay fresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry in fresh file, got %d", n)
	}
}
