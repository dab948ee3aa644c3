package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kirillkom/multimodal-kb/internal/bootstrap"
	"github.com/kirillkom/multimodal-kb/internal/config"
	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/observability/logging"
	"github.com/kirillkom/multimodal-kb/internal/observability/metrics"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/watch"
)

const service = "kb-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: service, EnableQueue: true})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Store.VerifyPairing(ctx); err != nil {
		logger.Warn("store pairing check failed", "error", err)
	}

	pipeMetrics := app.Metrics
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: pipeMetrics.Handler(),
	}
	go func() {
		logger.Info("metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Catch up on anything already sitting in the source directory before
	// switching to event-driven mode.
	results, err := app.IngestUC.ProcessAll(ctx)
	if err != nil {
		logger.Error("initial sweep failed", "error", err)
	}
	for _, result := range results {
		pipeMetrics.ObserveDocument(service, string(result.Status), 0)
		recordItems(pipeMetrics, result)
	}

	watcher := watch.New(app.SourceExtensions, app.Queue, logger)
	go func() {
		if err := watcher.Watch(ctx, cfg.SourceDir); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher stopped", "error", err)
		}
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIngestRequests(ctx, func(handlerCtx context.Context, filename string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()

		pipeMetrics.StartDocument()
		started := time.Now()
		result, err := app.IngestUC.ProcessDocument(processCtx, filepath.Join(cfg.SourceDir, filename))
		pipeMetrics.FinishDocument(service, string(result.Status), time.Since(started))
		recordItems(pipeMetrics, result)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
}

func recordItems(m *metrics.PipelineMetrics, result domain.IngestResult) {
	m.AddItems(service, "text", result.TextItems)
	m.AddItems(service, "table", result.TableItems)
	m.AddItems(service, "image", result.ImageItems)
}
