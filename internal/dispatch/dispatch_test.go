package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a controllable push.Conn for actor tests.
type fakeConn struct {
	peer    string
	hasPeer bool

	pushDelay    time.Duration
	pushResponse push.Status
	pushReason   string
	pushErr      error
	infoErr      error

	mu     sync.Mutex
	pushed []*push.Notification
	closed bool
}

func (c *fakeConn) Push(_ context.Context, n *push.Notification) error {
	if c.pushDelay > 0 {
		time.Sleep(c.pushDelay)
	}
	if c.pushErr != nil {
		return c.pushErr
	}
	c.mu.Lock()
	c.pushed = append(c.pushed, n)
	c.mu.Unlock()
	if c.pushResponse != push.StatusUnset {
		n.Response = c.pushResponse
		n.Reason = c.pushReason
	}
	return nil
}

func (c *fakeConn) HandleInfo(_ any) error {
	return c.infoErr
}

func (c *fakeConn) PeerAddress() (string, bool) {
	return c.peer, c.hasPeer
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) pushedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pushed)
}

// fakeAdapter hands out fakeConns, one per Connect call.
type fakeAdapter struct {
	connectErr error
	newConn    func() *fakeConn

	connects atomic.Int32

	mu    sync.Mutex
	conns []*fakeConn
}

func newFakeAdapter(newConn func() *fakeConn) *fakeAdapter {
	return &fakeAdapter{newConn: newConn}
}

func (a *fakeAdapter) Connect(_ context.Context) (push.Conn, error) {
	a.connects.Add(1)
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	conn := a.newConn()
	a.mu.Lock()
	a.conns = append(a.conns, conn)
	a.mu.Unlock()
	return conn, nil
}

func newTestRegistry() *Registry {
	return NewRegistry(metrics.New(), newTestLogger())
}
