package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/drip/pkg/delivery"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/metrics"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/queue"
	"github.com/dukex/drip/pkg/worker"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies are the backends the worker runs on.
type Dependencies struct {
	Persistence     persistence.Persistence
	EventBus        eventbus.EventBus
	Queue           queue.Queue
	Gateway         delivery.Gateway
	Tracer          trace.Tracer
	Logger          *slog.Logger
	Config          worker.Config
	StaleAfter      time.Duration
	DefaultLanguage string
	MetricsAddr     string
}

type WorkerManager struct {
	deps     Dependencies
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	executor *workflow.Executor
	enroller *workflow.Enroller
	pool     *worker.Pool
}

func NewWorkerManager(deps Dependencies) *WorkerManager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := metrics.New(registry)

	executor := workflow.NewExecutor(deps.Persistence, deps.Gateway, deps.Queue, deps.Logger,
		workflow.WithPublisher(deps.EventBus),
		workflow.WithMetrics(m),
		workflow.WithTracer(deps.Tracer),
		workflow.WithDefaultLanguage(deps.DefaultLanguage),
	)
	enroller := workflow.NewEnroller(deps.Persistence, deps.Queue, deps.EventBus, m, deps.Logger)
	sweeper := workflow.NewSweeper(deps.Persistence, deps.Queue, m, deps.Logger, deps.StaleAfter, 0)

	return &WorkerManager{
		deps:     deps,
		logger:   deps.Logger.With("module", "drip-worker"),
		registry: registry,
		metrics:  m,
		executor: executor,
		enroller: enroller,
		pool:     worker.NewPool(deps.Queue, executor, sweeper, m, deps.Logger, deps.Config),
	}
}

// Run subscribes to trigger events and consumes tasks until ctx is done.
func (w *WorkerManager) Run(ctx context.Context) error {
	err := w.deps.EventBus.Handle(events.TriggerFiredEvent, w.enroller.HandleTriggerFired)
	if err != nil {
		return err
	}

	err = w.deps.EventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	server := w.metricsServer()
	if server != nil {
		go func() {
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			_ = server.Shutdown(shutdownCtx)
		}()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	err = w.pool.Run(ctx)

	w.logger.InfoContext(ctx, "Shutting down worker")

	return err
}

func (w *WorkerManager) metricsServer() *http.Server {
	if w.deps.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(w.registry))
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		err := w.deps.Persistence.HealthCheck(r.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)

			return
		}

		_, _ = rw.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:              w.deps.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
