package ipc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/beamline/gateway/internal/logging"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "gateway-test.sock")
	log := logging.New(logging.Config{Component: "ipc-test"})
	handler := func(ctx context.Context, m Message) Message {
		return Message{Type: ResponseOK, Payload: m.Payload}
	}
	s := NewServer(Config{SocketPath: sockPath, MaxConnections: 4}, handler, log)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, sockPath
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestPingRepliesWithPong(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn := dial(t, sockPath)
	defer conn.Close()

	frame, err := Encode(Message{Type: Ping, Payload: make([]byte, 10)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatal(err)
	}

	resp := make([]byte, FrameHeaderSize)
	if _, err := readFull(conn, resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	m, _, err := Decode(resp)
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if m.Type != Pong {
		t.Fatalf("expected Pong, got %v", m.Type)
	}
}

func TestUndersizedFrameClosesConnection(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn := dial(t, sockPath)
	defer conn.Close()

	// length = 5, below the 6-byte header minimum.
	bad := []byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x10}
	if _, err := conn.Write(bad); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err == nil && n > 0 {
		t.Fatalf("expected connection closed without reply, got %d bytes", n)
	}
}

func TestTaskSubmitRoutesToHandler(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn := dial(t, sockPath)
	defer conn.Close()

	payload := []byte(`{"hello":"world"}`)
	frame, err := Encode(Message{Type: TaskSubmit, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatal(err)
	}

	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	length, _ := PeekLength(header)
	rest := make([]byte, length-4)
	if _, err := readFull(conn, rest); err != nil {
		t.Fatalf("read rest of frame: %v", err)
	}
	full := append(header, rest...)
	m, _, err := Decode(full)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.Type != ResponseOK {
		t.Fatalf("expected ResponseOK, got %v", m.Type)
	}
	if string(m.Payload) != string(payload) {
		t.Fatalf("expected echoed payload, got %s", m.Payload)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
