package signaling

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/portpool"
	"github.com/friendsincode/relaydesk/internal/quota"
	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/rs/zerolog"
)

type fakeConn struct {
	in      chan []byte
	written chan []byte

	mu       sync.Mutex
	closed   bool
	code     StatusCode
	reason   string
	closedCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		written:  make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closedCh:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.written <- data
	return nil
}

func (c *fakeConn) Close(code StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	c.code = code
	c.reason = reason
	close(c.closedCh)
	return nil
}

func (c *fakeConn) closeStatus() (StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func newTestManager(t *testing.T) (*session.Manager, *portpool.Pool) {
	t.Helper()
	pool, err := portpool.New(50000, 50010)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return session.NewManager(session.NewMemoryStore(), pool, quota.Fixed(5), nil, zerolog.Nop()), pool
}

func run(h *Handler, ctx context.Context, code string, conn Conn) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- h.HandleConnection(ctx, code, conn)
	}()
	return result
}

func wait(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
		return nil
	}
}

func expectPong(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case data := <-conn.written:
		if string(data) != `{"type":"pong"}` {
			t.Fatalf("expected pong, got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	m, _ := newTestManager(t)
	h := NewHandler(m, zerolog.Nop())
	conn := newFakeConn()

	err := h.HandleConnection(context.Background(), "404404404", conn)
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	code, reason := conn.closeStatus()
	if code != StatusPolicyViolation || reason != ReasonNotFound {
		t.Fatalf("expected policy violation %q, got %d %q", ReasonNotFound, code, reason)
	}
}

func TestTerminalSessionRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "T1", session.Metadata{})
	if _, err := m.Close(ctx, sess.Code, true); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn := newFakeConn()
	err := NewHandler(m, zerolog.Nop()).HandleConnection(ctx, sess.Code, conn)
	if !errors.Is(err, session.ErrSessionUnavailable) {
		t.Fatalf("expected ErrSessionUnavailable, got %v", err)
	}
	code, reason := conn.closeStatus()
	if code != StatusPolicyViolation || reason != ReasonUnavailable {
		t.Fatalf("unexpected close %d %q", code, reason)
	}
}

func TestPingThenDisconnect(t *testing.T) {
	m, pool := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "T1", session.Metadata{})

	conn := newFakeConn()
	result := run(NewHandler(m, zerolog.Nop()), ctx, sess.Code, conn)

	conn.in <- []byte(`{"type":"ping"}`)
	expectPong(t, conn)

	current, err := m.Lookup(ctx, sess.Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if current.State != models.SessionActive {
		t.Fatalf("expected active while connected, got %s", current.State)
	}

	conn.in <- []byte(`{"type":"disconnect"}`)
	if err := wait(t, result); err != nil {
		t.Fatalf("handler: %v", err)
	}

	code, reason := conn.closeStatus()
	if code != StatusNormalClosure || reason != ReasonDisconnect {
		t.Fatalf("unexpected close %d %q", code, reason)
	}

	final, _ := m.Lookup(ctx, sess.Code)
	if final.State != models.SessionDisconnected {
		t.Fatalf("expected disconnected, got %s", final.State)
	}
	if pool.InUse() != 0 {
		t.Fatalf("port not released, %d in use", pool.InUse())
	}
}

func TestAbruptDropDisconnects(t *testing.T) {
	m, pool := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "T1", session.Metadata{})

	conn := newFakeConn()
	result := run(NewHandler(m, zerolog.Nop()), ctx, sess.Code, conn)

	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"type":"screen_share"}`)
	conn.in <- []byte(`{"type":"ping"}`)
	expectPong(t, conn)

	close(conn.in)
	if err := wait(t, result); err != nil {
		t.Fatalf("handler: %v", err)
	}

	final, _ := m.Lookup(ctx, sess.Code)
	if final.State != models.SessionDisconnected || final.DisconnectedAt == nil {
		t.Fatalf("expected disconnected session, got %+v", final)
	}
	if pool.Held(sess.Port) {
		t.Fatal("port still held after drop")
	}
}

func TestShutdownCancelsConnection(t *testing.T) {
	m, pool := newTestManager(t)
	sess, _ := m.Create(context.Background(), "T1", session.Metadata{})

	ctx, cancel := context.WithCancel(context.Background())
	conn := newFakeConn()
	result := run(NewHandler(m, zerolog.Nop()), ctx, sess.Code, conn)

	conn.in <- []byte(`{"type":"ping"}`)
	expectPong(t, conn)

	cancel()
	if err := wait(t, result); err != nil {
		t.Fatalf("handler: %v", err)
	}

	code, _ := conn.closeStatus()
	if code != StatusGoingAway {
		t.Fatalf("expected going away, got %d", code)
	}
	if pool.InUse() != 0 {
		t.Fatal("port not released on shutdown")
	}
}

func TestCloseWhileConnectedReleasesOnce(t *testing.T) {
	m, pool := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "T1", session.Metadata{})

	conn := newFakeConn()
	result := run(NewHandler(m, zerolog.Nop()), ctx, sess.Code, conn)

	conn.in <- []byte(`{"type":"ping"}`)
	expectPong(t, conn)

	if _, err := m.Close(ctx, sess.Code, true); err != nil {
		t.Fatalf("close: %v", err)
	}
	other, _ := pool.Allocate()

	close(conn.in)
	if err := wait(t, result); err != nil {
		t.Fatalf("handler: %v", err)
	}

	final, _ := m.Lookup(ctx, sess.Code)
	if final.State != models.SessionClosed {
		t.Fatalf("expected closed to stick, got %s", final.State)
	}
	if !pool.Held(other) || pool.InUse() != 1 {
		t.Fatal("teardown released a port it did not own")
	}
}

func TestFrameRateLimit(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "T1", session.Metadata{})

	conn := newFakeConn()
	h := NewHandler(m, zerolog.Nop(), WithFrameLimit(0.001, 1))
	result := run(h, ctx, sess.Code, conn)

	conn.in <- []byte(`{"type":"ping"}`)
	conn.in <- []byte(`{"type":"ping"}`)
	conn.in <- []byte(`{"type":"ping"}`)
	close(conn.in)

	if err := wait(t, result); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := len(conn.written); got != 1 {
		t.Fatalf("expected 1 pong within burst, got %d", got)
	}
}
