// Package pushdispatch assembles the dispatch service: worker pools, the
// ingestion pipeline, and the HTTP surface.
package pushdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	notification "github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/internal/guard"
	"github.com/tinywideclouds/go-push-dispatch/internal/metrics"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatch/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notification.NotificationRequest]
	pools           []*dispatch.Pool
	orchestrator    *dispatch.Orchestrator
	logger          *slog.Logger
}

// New assembles the service: one supervised pool per config entry, the
// orchestrator over the shared registry, the streaming ingestion pipeline
// and the HTTP routes.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	adapters map[string]push.Adapter,
	claimGuard guard.Guard,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatch core
	m := metrics.New()
	registry := dispatch.NewRegistry(m, logger)
	orchestrator := dispatch.NewOrchestrator(registry, m, logger)

	var pools []*dispatch.Pool
	routing := pipeline.Pools{}
	for _, poolCfg := range cfg.Pools {
		adapter, ok := adapters[poolCfg.Platform]
		if !ok {
			return nil, fmt.Errorf("pool %s: no adapter for platform %s", poolCfg.Name, poolCfg.Platform)
		}
		pools = append(pools, dispatch.NewPool(push.PoolConfig{
			Name:            poolCfg.Name,
			Workers:         poolCfg.Workers,
			AllowDuplicates: poolCfg.AllowDuplicates,
		}, adapter, registry, claimGuard, m, logger))

		// First pool per platform receives the pipeline traffic.
		switch poolCfg.Platform {
		case "fcm":
			if routing.FCM == "" {
				routing.FCM = poolCfg.Name
			}
		case "web":
			if routing.Web == "" {
				routing.Web = poolCfg.Name
			}
		}
	}

	// 3. Pipeline
	processor := pipeline.NewProcessor(orchestrator, routing, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.NotificationRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	dispatchAPI := api.NewDispatchAPI(orchestrator, registry, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/push", dispatchAPI.PushHandler)
	handle("GET /api/v1/pools/{pool}/workers", dispatchAPI.PoolWorkersHandler)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// Prometheus scrape endpoint, unauthenticated by convention.
	mux.Handle("GET /metrics", m.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		pools:           pools,
		orchestrator:    orchestrator,
		logger:          logger,
	}, nil
}

// Orchestrator exposes the dispatch entry point for embedding callers.
func (w *Wrapper) Orchestrator() *dispatch.Orchestrator {
	return w.orchestrator
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Starting dispatch pools...")
	for _, pool := range w.pools {
		pool.Start(ctx)
	}

	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	for _, pool := range w.pools {
		if err := pool.Stop(ctx); err != nil {
			w.logger.Error("Pool shutdown failed.", "pool", pool.Name(), "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
