package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/internal/guard"
	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

const defaultRestartDelay = 2 * time.Second

// Pool supervises the workers of one pool config: it starts them, restarts
// any that terminate, and shuts them down on Stop. A worker that fails to
// initialize, or stops on an adapter error, takes down nobody else.
type Pool struct {
	cfg      push.PoolConfig
	adapter  push.Adapter
	registry *Registry
	guard    guard.Guard

	// restartDelay is overridable in tests.
	restartDelay time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPool(cfg push.PoolConfig, adapter push.Adapter, registry *Registry, g guard.Guard, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{
		cfg:          cfg,
		adapter:      adapter,
		registry:     registry,
		guard:        g,
		restartDelay: defaultRestartDelay,
		stop:         make(chan struct{}),
		metrics:      m,
		logger:       logger.With("component", "Pool", "pool", cfg.Name),
	}
}

func (p *Pool) Name() string { return p.cfg.Name }

// Start launches one supervision loop per configured worker slot.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting pool", "workers", p.cfg.Workers, "allow_duplicates", p.cfg.AllowDuplicates)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.supervise(ctx)
	}
}

func (p *Pool) supervise(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		w := newWorker(p.cfg.Name, p.cfg.AllowDuplicates, p.adapter, p.guard, p.metrics, p.logger)
		if err := w.Start(ctx, p.registry); err != nil {
			if errors.Is(err, ErrDuplicateConnection) {
				// The claim holder may terminate and free the address;
				// retry after the delay below.
				p.logger.Warn("Worker rejected as duplicate; will retry", "err", err)
			} else {
				p.logger.Error("Worker initialization failed; will retry", "err", err)
			}
		} else {
			select {
			case <-w.Done():
				p.logger.Warn("Worker died; restarting after delay")
			case <-p.stop:
				w.Shutdown()
				<-w.Done()
				return
			case <-ctx.Done():
				w.Shutdown()
				<-w.Done()
				return
			}
		}

		select {
		case <-time.After(p.restartDelay):
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts down all workers and waits for them, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
