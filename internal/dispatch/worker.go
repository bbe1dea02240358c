// Package dispatch is the concurrent core: the per-connection worker actor,
// the pool registry with round-robin selection, the push orchestrator and
// the pool supervisor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatch/internal/guard"
	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/internal/timing"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// ErrDuplicateConnection fails a worker's initialization when its peer
// address is already claimed by a live connection.
var ErrDuplicateConnection = errors.New("duplicate connection to peer")

var errWorkerTerminated = errors.New("worker terminated")

const (
	mailboxSize = 64
	// closeConfirmTimeout bounds the wait for the transport to confirm
	// closure of a rejected duplicate connection. An unbounded wait could
	// hang the initializing worker if the acknowledgement never arrives.
	closeConfirmTimeout = 5 * time.Second
)

// Mailbox message types. One worker processes these strictly in order.
type pushMsg struct{ n *push.Notification }
type observeMsg struct{ rtt time.Duration }
type infoMsg struct{ reply chan push.WorkerInfo }
type genericMsg struct{ payload any }

// Worker is an actor owning one provider connection. It serializes all
// push and info handling for that connection and is the sole writer of its
// latency estimate.
type Worker struct {
	id              string
	pool            string
	allowDuplicates bool

	adapter push.Adapter
	guard   guard.Guard

	// conn and claimedAddr are written during Start and read only by the
	// actor goroutine afterwards.
	conn        push.Conn
	claimedAddr string

	timing timing.Data

	mailbox  chan any
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newWorker(pool string, allowDuplicates bool, adapter push.Adapter, g guard.Guard, m *metrics.Metrics, logger *slog.Logger) *Worker {
	id := uuid.NewString()
	return &Worker{
		id:              id,
		pool:            pool,
		allowDuplicates: allowDuplicates,
		adapter:         adapter,
		guard:           g,
		timing:          timing.New(),
		mailbox:         make(chan any, mailboxSize),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		metrics:         m,
		logger:          logger.With("component", "DispatcherWorker", "pool", pool, "worker_id", id),
	}
}

// Start runs the worker's initialization: connect the adapter, apply the
// duplicate-suppression policy, register with the pool, then hand off to
// the actor loop. On any error the worker never becomes visible to
// dispatch and Done is closed immediately.
func (w *Worker) Start(ctx context.Context, reg *Registry) error {
	conn, err := w.adapter.Connect(ctx)
	if err != nil {
		close(w.done)
		return fmt.Errorf("adapter init failed: %w", err)
	}

	if !w.allowDuplicates {
		if err := w.claimPeer(ctx, conn); err != nil {
			close(w.done)
			return err
		}
	}

	w.conn = conn
	reg.Register(w)
	go w.run()
	return nil
}

// claimPeer enforces the duplicate-connection policy on a fresh connection.
func (w *Worker) claimPeer(ctx context.Context, conn push.Conn) error {
	addr, ok := conn.PeerAddress()
	if !ok {
		// Permissive default: without a resolvable peer address the
		// connection cannot be deduplicated, so treat it as unique.
		w.logger.Warn("Peer address unresolved; skipping duplicate suppression")
		return nil
	}

	claimed, err := w.guard.Claim(ctx, addr)
	if err != nil {
		w.logger.Warn("Claim lookup failed; treating connection as unique", "peer", addr, "err", err)
		return nil
	}
	if !claimed {
		w.metrics.DuplicateConnections.Inc()
		w.logger.Warn("Peer already claimed; closing duplicate connection", "peer", addr)
		w.closeWithConfirm(conn)
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, addr)
	}

	w.claimedAddr = addr
	return nil
}

// closeWithConfirm blocks until the transport confirms closure, but never
// longer than closeConfirmTimeout.
func (w *Worker) closeWithConfirm(conn push.Conn) {
	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			w.logger.Warn("Duplicate connection close reported an error", "err", err)
		}
	case <-time.After(closeConfirmTimeout):
		w.logger.Warn("Timed out waiting for duplicate connection to close")
	}
}

func (w *Worker) run() {
	defer w.terminate()
	for {
		select {
		case <-w.quit:
			return
		case msg := <-w.mailbox:
			if stop := w.handle(msg); stop {
				return
			}
		}
	}
}

func (w *Worker) handle(msg any) (stop bool) {
	switch m := msg.(type) {
	case pushMsg:
		return w.handlePush(m.n)
	case observeMsg:
		// End-to-end round trip measured by the orchestrator; merged the
		// same way as a locally observed latency.
		w.timing = w.timing.Update(m.rtt)
	case infoMsg:
		m.reply <- w.currentInfo()
	case genericMsg:
		if err := w.conn.HandleInfo(m.payload); err != nil {
			w.logger.Error("Adapter stopped on info message", "err", err)
			return true
		}
	}
	return false
}

func (w *Worker) handlePush(n *push.Notification) (stop bool) {
	start := time.Now()

	// The push is deliberately not tied to any caller context: a caller
	// that times out stops waiting, it does not abort the adapter
	// operation.
	if err := w.conn.Push(context.Background(), n); err != nil {
		// Fatal to this worker only. The in-flight notification gets no
		// completion signal; the orchestrator's timeout is the caller's
		// safety net.
		w.metrics.PushesCompleted.WithLabelValues(w.pool, string(push.StatusFailure)).Inc()
		w.logger.Error("Adapter stopped during push", "err", err)
		return true
	}

	elapsed := time.Since(start)
	w.timing = w.timing.Update(elapsed)
	w.metrics.PushLatency.WithLabelValues(w.pool).Observe(elapsed.Seconds())

	n.Complete()
	w.metrics.PushesCompleted.WithLabelValues(w.pool, string(n.Response)).Inc()
	return false
}

func (w *Worker) currentInfo() push.WorkerInfo {
	addr, ok := w.conn.PeerAddress()
	if !ok {
		addr = "unknown"
	}
	return push.WorkerInfo{
		WorkerID:     w.id,
		PeerAddress:  addr,
		AvgLatencyMs: w.timing.AverageMs(),
	}
}

// terminate releases the peer claim and closes the connection. Claim
// release is tied here, to actor termination, so a reconnecting peer can
// reclaim its address promptly.
func (w *Worker) terminate() {
	if w.claimedAddr != "" {
		if err := w.guard.Release(context.Background(), w.claimedAddr); err != nil {
			w.logger.Warn("Failed to release peer claim", "peer", w.claimedAddr, "err", err)
		}
	}
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("Connection close reported an error", "err", err)
	}
	close(w.done)
	w.logger.Info("Worker terminated")
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Pool() string { return w.pool }

// Done is closed when the actor has terminated. The registry, the pool
// supervisor and the guard release all key off this channel.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Shutdown asks the actor to stop. Safe to call more than once.
func (w *Worker) Shutdown() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// deliver enqueues a mailbox message, reporting false if the worker has
// terminated (or terminates while the mailbox is full).
func (w *Worker) deliver(msg any) bool {
	select {
	case w.mailbox <- msg:
		return true
	case <-w.done:
		return false
	}
}

// Push enqueues a notification. Pushes are processed in delivery order.
func (w *Worker) Push(n *push.Notification) bool {
	return w.deliver(pushMsg{n: n})
}

// Observe merges an externally measured round trip into the estimator.
func (w *Worker) Observe(rtt time.Duration) bool {
	return w.deliver(observeMsg{rtt: rtt})
}

// Send forwards an arbitrary message to the adapter's generic handler.
func (w *Worker) Send(payload any) bool {
	return w.deliver(genericMsg{payload: payload})
}

// Info answers the synchronous info query: peer address plus the current
// average latency in milliseconds.
func (w *Worker) Info(ctx context.Context) (push.WorkerInfo, error) {
	reply := make(chan push.WorkerInfo, 1)
	if !w.deliver(infoMsg{reply: reply}) {
		return push.WorkerInfo{}, errWorkerTerminated
	}
	select {
	case info := <-reply:
		return info, nil
	case <-w.done:
		return push.WorkerInfo{}, errWorkerTerminated
	case <-ctx.Done():
		return push.WorkerInfo{}, ctx.Err()
	}
}
