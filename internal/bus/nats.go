package bus

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConnector dials real NATS connections for the pool, using the same
// reconnect/timeout option wiring as
// liverty-music-backend/internal/infrastructure/messaging/publisher.go.
type NATSConnector struct {
	URL            string
	ConnectTimeout time.Duration
}

// NATSHandle adapts *nats.Conn to the pool's Handle interface.
type NATSHandle struct {
	conn *nats.Conn
}

func (h *NATSHandle) Healthy() bool { return h.conn.IsConnected() }
func (h *NATSHandle) Close() error   { h.conn.Close(); return nil }

// Conn exposes the underlying *nats.Conn for request-reply calls.
func (h *NATSHandle) Conn() *nats.Conn { return h.conn }

// Connect implements Connector.
func (c *NATSConnector) Connect(ctx context.Context) (Handle, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(c.ConnectTimeout),
	}
	conn, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSHandle{conn: conn}, nil
}

// Requester is the capability the bridge uses to perform one request-reply
// call against the Router, implemented by both the real NATS path and the
// stub fallback of spec.md §4.6.
type Requester interface {
	Request(ctx context.Context, subject string, payload []byte) ([]byte, error)
}

// natsRequester issues a real NATS request-reply through a pooled
// connection, borrowing it for the duration of one call and releasing it
// before returning — the bridge never stores the handle (spec.md §9's
// "one-way references only").
type natsRequester struct {
	pool *Pool
	cfg  PoolConfig
}

// NewNATSRequester builds a Requester backed by the connection pool.
func NewNATSRequester(pool *Pool, cfg PoolConfig) Requester {
	return &natsRequester{pool: pool, cfg: cfg}
}

func (r *natsRequester) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	timeout := r.cfg.ConnectionTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	conn, err := r.pool.Acquire(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(conn)

	nh := conn.Handle().(*NATSHandle)
	msg, err := nh.Conn().RequestWithContext(ctx, subject, payload)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// StubRequester fabricates a success reply echoing the input, used when
// CGW_IPC_NATS_ENABLE=false (spec.md §4.6 "Stub mode") for development
// without a Router peer.
type StubRequester struct{}

func (StubRequester) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	return payload, nil
}
