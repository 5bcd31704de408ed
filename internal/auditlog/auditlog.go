// Package auditlog implements the append-only binary audit log of
// spec.md §6 "Persisted state", grounded on original_source's
// include/audit_log.h and src/audit_log.c (record shape, rotate-by-rename
// semantics). SPEC_FULL.md §3.12 keeps this as a concrete component. The
// HTTP pipeline records every admission rejection and every successful
// decide or message request; registry and admin passthrough successes and
// IPC-bridged requests are not recorded.
package auditlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// recordHeaderSize is the fixed [ts:u64][type:u32][len:u32] prefix.
const recordHeaderSize = 8 + 4 + 4

// Kind distinguishes audit record types. Numeric values are part of the
// on-disk format and must not be renumbered.
type Kind uint32

const (
	KindAdmissionAllowed Kind = 1
	KindAdmissionDenied  Kind = 2
	KindIPCRequest       Kind = 3
)

// Entry is one decoded record, returned by Replay.
type Entry struct {
	TimestampMS uint64
	Type        Kind
	Payload     []byte
}

// Log is an append-only audit log file, safe for concurrent Record calls.
type Log struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if needed) the audit log at path for appending.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	return &Log{path: path, f: f}, nil
}

// Record appends one entry: [ts_ms:u64 be][type:u32 be][len:u32 be][payload].
func (l *Log) Record(kind Kind, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(time.Now().UnixMilli()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(kind))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[recordHeaderSize:], payload)

	_, err := l.f.Write(buf)
	return err
}

// Rotate renames the current file to "<path>.<suffix>" and reopens a fresh
// file at the original path. Atomic from a reader's viewpoint when the
// underlying os.Rename is (spec.md §6).
func (l *Log) Rotate(suffix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.f.Close(); err != nil {
		return fmt.Errorf("auditlog: close before rotate: %w", err)
	}
	rotated := fmt.Sprintf("%s.%s", l.path, suffix)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("auditlog: rename: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("auditlog: reopen after rotate: %w", err)
	}
	l.f = f
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Replay reads every record from the file at path in order, invoking fn
// for each. Replay stops early if fn returns false.
func Replay(path string, fn func(Entry) bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("auditlog: open for replay: %w", err)
	}
	defer f.Close()

	count := 0
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF {
				break
			}
			return count, fmt.Errorf("auditlog: read header: %w", err)
		}
		ts := binary.BigEndian.Uint64(header[0:8])
		kind := binary.BigEndian.Uint32(header[8:12])
		plen := binary.BigEndian.Uint32(header[12:16])

		payload := make([]byte, plen)
		if _, err := io.ReadFull(f, payload); err != nil {
			return count, fmt.Errorf("auditlog: read payload: %w", err)
		}
		count++
		if !fn(Entry{TimestampMS: ts, Type: Kind(kind), Payload: payload}) {
			break
		}
	}
	return count, nil
}
