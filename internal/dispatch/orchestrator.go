package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Orchestrator is the public entry point of the dispatch layer. It decides
// synchronous vs. asynchronous mode, correlates results, derives effective
// timeouts from worker latency estimates and merges timing metadata into
// the result handed back to the caller. It never returns an error for
// ordinary operational conditions: no worker and timeout are result values.
type Orchestrator struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewOrchestrator(registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		metrics:  m,
		logger:   logger.With("component", "PushOrchestrator"),
	}
}

// Push dispatches one notification to the named pool. With OnResponse set
// it returns immediately with a start acknowledgement; otherwise it blocks
// until the result arrives or the effective timeout elapses.
func (o *Orchestrator) Push(ctx context.Context, pool string, n *push.Notification, opts push.Options) push.Result {
	if opts.OnResponse != nil {
		return o.pushAsync(pool, n, opts)
	}
	return o.pushSync(ctx, pool, n, opts)
}

// PushAll dispatches a batch independently, preserving input order. There
// is no atomicity across the batch: each item succeeds, fails or times out
// on its own.
func (o *Orchestrator) PushAll(ctx context.Context, pool string, ns []*push.Notification, opts push.Options) []push.Result {
	results := make([]push.Result, 0, len(ns))
	for _, n := range ns {
		results = append(results, o.Push(ctx, pool, n, opts))
	}
	return results
}

func (o *Orchestrator) pushAsync(pool string, n *push.Notification, opts push.Options) push.Result {
	n.Token = uuid.NewString()
	n.OnComplete = opts.OnResponse

	w := o.registry.Select(pool)
	if w == nil || !w.Push(n) {
		o.logger.Warn("No live worker available", "pool", pool)
		n.Response = push.StatusNotStarted
		opts.OnResponse(n)
		return push.Result{Status: push.StatusNotStarted, Notification: n}
	}

	o.metrics.PushesDispatched.WithLabelValues(pool).Inc()
	return push.Result{Status: push.StatusUnset, WorkerID: w.ID(), Notification: n}
}

func (o *Orchestrator) pushSync(ctx context.Context, pool string, n *push.Notification, opts push.Options) push.Result {
	token := uuid.NewString()
	n.Token = token

	// Single-shot result slot. A completion arriving after the wait below
	// has ended lands in the buffer (or is dropped on a token mismatch)
	// and is never delivered to the caller.
	completed := make(chan *push.Notification, 1)
	n.OnComplete = func(done *push.Notification) {
		if done.Token != token {
			return
		}
		select {
		case completed <- done:
		default:
		}
	}

	start := time.Now()

	w := o.registry.Select(pool)
	if w == nil {
		o.logger.Warn("No live worker available", "pool", pool)
		n.Response = push.StatusNotStarted
		return push.Result{Status: push.StatusNotStarted, Notification: n}
	}

	info, err := w.Info(ctx)
	if err != nil {
		// Worker died between selection and the info query.
		o.logger.Warn("Chosen worker unavailable", "pool", pool, "worker_id", w.ID(), "err", err)
		n.Response = push.StatusNotStarted
		return push.Result{Status: push.StatusNotStarted, Notification: n}
	}

	wait := opts.Timeout
	if wait == push.DynamicTimeout {
		wait = 2 * time.Duration(info.AvgLatencyMs) * time.Millisecond
	}

	if !w.Push(n) {
		n.Response = push.StatusNotStarted
		return push.Result{Status: push.StatusNotStarted, Notification: n}
	}
	o.metrics.PushesDispatched.WithLabelValues(pool).Inc()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case done := <-completed:
		rtt := time.Since(start)
		// Feed the end-to-end round trip back so the worker's estimate
		// covers queueing as well as the adapter-local portion.
		w.Observe(rtt)
		return push.Result{
			Status:         done.Response,
			WorkerID:       w.ID(),
			Worker:         info,
			ResponseTimeMs: rtt.Milliseconds(),
			Notification:   done,
		}
	case <-timer.C:
		o.logger.Warn("Synchronous push timed out", "pool", pool, "worker_id", w.ID(), "timeout", wait)
		return push.Result{
			Status:         push.StatusTimeout,
			WorkerID:       w.ID(),
			Worker:         info,
			ResponseTimeMs: wait.Milliseconds(),
		}
	case <-ctx.Done():
		elapsed := time.Since(start)
		return push.Result{
			Status:         push.StatusTimeout,
			WorkerID:       w.ID(),
			Worker:         info,
			ResponseTimeMs: elapsed.Milliseconds(),
		}
	}
}
