package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Registry is the directory of live workers per pool. Entries are added
// only by a Ready worker's self-registration and removed only when the
// registry observes that worker's termination. It holds worker handles,
// never shared mutable worker state.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*poolEntry

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type poolEntry struct {
	workers []*Worker
	cursor  int
}

func NewRegistry(m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		pools:   make(map[string]*poolEntry),
		metrics: m,
		logger:  logger.With("component", "ConnectionRegistry"),
	}
}

// Register adds a Ready worker to its pool and watches for its death to
// remove it again. A worker identity appears at most once per pool.
func (r *Registry) Register(w *Worker) {
	r.mu.Lock()
	entry, ok := r.pools[w.Pool()]
	if !ok {
		entry = &poolEntry{}
		r.pools[w.Pool()] = entry
	}
	entry.workers = append(entry.workers, w)
	r.mu.Unlock()

	r.metrics.LiveWorkers.WithLabelValues(w.Pool()).Inc()
	r.logger.Info("Worker registered", "pool", w.Pool(), "worker_id", w.ID())

	go func() {
		<-w.Done()
		r.remove(w)
	}()
}

func (r *Registry) remove(w *Worker) {
	r.mu.Lock()
	entry, ok := r.pools[w.Pool()]
	if ok {
		for i, candidate := range entry.workers {
			if candidate == w {
				entry.workers = append(entry.workers[:i], entry.workers[i+1:]...)
				if entry.cursor > i {
					entry.cursor--
				}
				break
			}
		}
	}
	r.mu.Unlock()

	r.metrics.LiveWorkers.WithLabelValues(w.Pool()).Dec()
	r.logger.Info("Worker removed", "pool", w.Pool(), "worker_id", w.ID())
}

// Select returns the next live worker in round-robin order, or nil when
// the pool has none (all still initializing, or all terminated).
func (r *Registry) Select(pool string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pools[pool]
	if !ok || len(entry.workers) == 0 {
		return nil
	}

	for i := 0; i < len(entry.workers); i++ {
		w := entry.workers[entry.cursor%len(entry.workers)]
		entry.cursor = (entry.cursor + 1) % len(entry.workers)
		select {
		case <-w.Done():
			// Terminated but not yet removed by the watcher; skip.
		default:
			return w
		}
	}
	return nil
}

// Workers snapshots the live workers of a pool.
func (r *Registry) Workers(pool string) []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pools[pool]
	if !ok {
		return nil
	}
	out := make([]*Worker, len(entry.workers))
	copy(out, entry.workers)
	return out
}

// WorkerInfos queries every live worker of a pool for its observable state.
// Workers that terminate mid-query are skipped.
func (r *Registry) WorkerInfos(ctx context.Context, pool string) []push.WorkerInfo {
	workers := r.Workers(pool)
	infos := make([]push.WorkerInfo, 0, len(workers))
	for _, w := range workers {
		info, err := w.Info(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}
