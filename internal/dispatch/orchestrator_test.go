package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/guard"
	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

func newTestOrchestrator(reg *Registry) *Orchestrator {
	return NewOrchestrator(reg, metrics.New(), newTestLogger())
}

func TestPushSync(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy path - result merges payload, worker info and round trip", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newFakeAdapter(func() *fakeConn {
			return &fakeConn{peer: "push.example.com:443", hasPeer: true, pushDelay: 10 * time.Millisecond}
		})
		w := startTestWorker(t, reg, adapter, true, guard.NewMemory())
		orch := newTestOrchestrator(reg)

		n := &push.Notification{Data: map[string]string{"msg_id": "123"}}
		res := orch.Push(ctx, "test-pool", n, push.Options{Timeout: time.Second})

		assert.Equal(t, push.StatusSuccess, res.Status)
		assert.Equal(t, w.ID(), res.WorkerID)
		assert.Equal(t, "push.example.com:443", res.Worker.PeerAddress)
		assert.GreaterOrEqual(t, res.ResponseTimeMs, int64(10))
		assert.Less(t, res.ResponseTimeMs, int64(500))
		require.NotNil(t, res.Notification)
		assert.Equal(t, "123", res.Notification.Data["msg_id"])
	})

	t.Run("Round trip fed back into the worker estimate", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newFakeAdapter(func() *fakeConn {
			return &fakeConn{hasPeer: false, pushDelay: 5 * time.Millisecond}
		})
		w := startTestWorker(t, reg, adapter, true, guard.NewMemory())
		orch := newTestOrchestrator(reg)

		res := orch.Push(ctx, "test-pool", &push.Notification{}, push.Options{Timeout: time.Second})
		require.Equal(t, push.StatusSuccess, res.Status)

		require.Eventually(t, func() bool {
			info, err := w.Info(ctx)
			return err == nil && info.AvgLatencyMs < 100
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Fixed timeout - synthetic result, no crash on late completion", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newFakeAdapter(func() *fakeConn {
			return &fakeConn{hasPeer: false, pushDelay: 200 * time.Millisecond}
		})
		w := startTestWorker(t, reg, adapter, true, guard.NewMemory())
		orch := newTestOrchestrator(reg)

		start := time.Now()
		res := orch.Push(ctx, "test-pool", &push.Notification{}, push.Options{Timeout: 50 * time.Millisecond})
		elapsed := time.Since(start)

		assert.Equal(t, push.StatusTimeout, res.Status)
		assert.Equal(t, int64(50), res.ResponseTimeMs)
		assert.Nil(t, res.Notification)
		assert.Less(t, elapsed, 150*time.Millisecond, "caller must return at the timeout, not the adapter's pace")

		// The adapter operation is still running; its late completion must
		// be a safe no-op and the worker must stay usable.
		res = orch.Push(ctx, "test-pool", &push.Notification{}, push.Options{Timeout: time.Second})
		assert.Equal(t, push.StatusSuccess, res.Status)
		assert.Equal(t, w.ID(), res.WorkerID)
	})

	t.Run("Dynamic timeout - twice the worker's average latency", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newFakeAdapter(func() *fakeConn {
			return &fakeConn{hasPeer: false, pushDelay: 500 * time.Millisecond}
		})
		startTestWorker(t, reg, adapter, true, guard.NewMemory())
		orch := newTestOrchestrator(reg)

		// Fresh worker: average is the 100ms seed, so the derived wait is 200ms.
		res := orch.Push(ctx, "test-pool", &push.Notification{}, push.Options{Timeout: push.DynamicTimeout})

		assert.Equal(t, push.StatusTimeout, res.Status)
		assert.Equal(t, int64(200), res.ResponseTimeMs)
	})

	t.Run("Empty pool - not_started without blocking", func(t *testing.T) {
		reg := newTestRegistry()
		orch := newTestOrchestrator(reg)

		start := time.Now()
		res := orch.Push(ctx, "empty-pool", &push.Notification{}, push.Options{Timeout: time.Second})

		assert.Equal(t, push.StatusNotStarted, res.Status)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})
}

func TestPushAsync(t *testing.T) {
	ctx := context.Background()

	t.Run("Returns immediately with the chosen worker identity", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newFakeAdapter(func() *fakeConn {
			return &fakeConn{hasPeer: false, pushDelay: 20 * time.Millisecond}
		})
		w := startTestWorker(t, reg, adapter, true, guard.NewMemory())
		orch := newTestOrchestrator(reg)

		completed := make(chan *push.Notification, 1)
		start := time.Now()
		res := orch.Push(ctx, "test-pool", &push.Notification{}, push.Options{
			OnResponse: func(n *push.Notification) { completed <- n },
		})

		assert.Less(t, time.Since(start), 20*time.Millisecond, "async push must not wait for the adapter")
		assert.Equal(t, push.StatusUnset, res.Status)
		assert.Equal(t, w.ID(), res.WorkerID)

		select {
		case n := <-completed:
			assert.Equal(t, push.StatusSuccess, n.Response)
		case <-time.After(time.Second):
			t.Fatal("callback was never invoked")
		}
	})

	t.Run("Empty pool - callback invoked directly with not_started", func(t *testing.T) {
		reg := newTestRegistry()
		orch := newTestOrchestrator(reg)

		completed := make(chan *push.Notification, 1)
		res := orch.Push(ctx, "empty-pool", &push.Notification{}, push.Options{
			OnResponse: func(n *push.Notification) { completed <- n },
		})

		assert.Equal(t, push.StatusNotStarted, res.Status)
		select {
		case n := <-completed:
			assert.Equal(t, push.StatusNotStarted, n.Response)
		default:
			t.Fatal("callback should have been invoked synchronously")
		}
	})
}

func TestPushAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Batch preserves input order, items independent", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newFakeAdapter(func() *fakeConn {
			return &fakeConn{hasPeer: false}
		})
		startTestWorker(t, reg, adapter, true, guard.NewMemory())
		orch := newTestOrchestrator(reg)

		batch := []*push.Notification{
			{Data: map[string]string{"id": "first"}},
			{Data: map[string]string{"id": "second"}},
			{Data: map[string]string{"id": "third"}},
		}
		results := orch.PushAll(ctx, "test-pool", batch, push.Options{Timeout: time.Second})

		require.Len(t, results, 3)
		for i, res := range results {
			assert.Equal(t, push.StatusSuccess, res.Status)
			require.NotNil(t, res.Notification)
			assert.Equal(t, batch[i].Data["id"], res.Notification.Data["id"])
		}
	})

	t.Run("Batch to an empty pool - every item not_started", func(t *testing.T) {
		reg := newTestRegistry()
		orch := newTestOrchestrator(reg)

		results := orch.PushAll(ctx, "empty-pool", []*push.Notification{{}, {}}, push.Options{Timeout: time.Second})

		require.Len(t, results, 2)
		for _, res := range results {
			assert.Equal(t, push.StatusNotStarted, res.Status)
		}
	})
}
