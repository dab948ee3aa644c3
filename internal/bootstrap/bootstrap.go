// Package bootstrap wires configuration into a runnable application graph.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kirillkom/multimodal-kb/internal/config"
	"github.com/kirillkom/multimodal-kb/internal/core/ports"
	"github.com/kirillkom/multimodal-kb/internal/core/usecase"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/checkpoint"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/chunking"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/docstore"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/extractor"
	pdfextractor "github.com/kirillkom/multimodal-kb/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/extractor/spreadsheet"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/ledger"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/llm/ollama"
	natsqueue "github.com/kirillkom/multimodal-kb/internal/infrastructure/queue/nats"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/resilience"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/vector/sqlite"
	"github.com/kirillkom/multimodal-kb/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	// SourceExtensions lists the document extensions the extractor router
	// can handle, for the directory watcher.
	SourceExtensions []string

	Store    *usecase.DualContentStore
	IngestUC ports.DocumentIngestor
	Retrieve ports.ContextRetriever
	AnswerUC ports.QuestionAnswerer

	Metrics *metrics.PipelineMetrics
	Queue   *natsqueue.Queue

	closeFn func()
}

type Options struct {
	// Service labels metric series; defaults to "multimodal-kb".
	Service string
	// EnableQueue connects to NATS. The one-shot ask command leaves it off.
	EnableQueue bool
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.Service == "" {
		opts.Service = "multimodal-kb"
	}
	pipeMetrics := metrics.NewPipelineMetrics(opts.Service)

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaVisionModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient)
	summarizer := ollama.NewSummarizer(ollamaClient, cfg.SummaryRatePerSec, logger)
	describer := ollama.NewDescriber(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	var (
		index     ports.SummaryIndex
		raw       ports.RawContentStore
		docLedger ports.Ledger
		closers   []func()
	)

	switch cfg.StoreBackend {
	case "server":
		db, err := docstore.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })

		pgStore := docstore.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		pgLedger, err := docstore.NewPostgresLedger(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("load ledger: %w", err)
		}

		index = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		raw = pgStore
		docLedger = pgLedger
	case "local", "":
		sqliteIndex, err := sqlite.New(filepath.Join(cfg.DataDir, "summaries.db"), logger)
		if err != nil {
			return nil, fmt.Errorf("open summary index: %w", err)
		}
		closers = append(closers, func() { _ = sqliteIndex.Close() })

		fileStore, err := docstore.NewFileStore(filepath.Join(cfg.DataDir, "raw_contents.kbr"), logger)
		if err != nil {
			return nil, fmt.Errorf("open raw store: %w", err)
		}

		index = sqliteIndex
		raw = fileStore
		docLedger = ledger.NewFileLedger(filepath.Join(cfg.DataDir, "ledger.json"), logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	images := ledger.NewImageRegistry(filepath.Join(cfg.DataDir, "processed_images.json"), logger)

	checkpoints, err := checkpoint.NewDirStore(filepath.Join(cfg.DataDir, "interim"))
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	splitter := chunking.NewSplitter(cfg.ChunkMaxChars, cfg.ChunkCombineUnder, cfg.ChunkOverlap)
	router := extractor.NewRouter().
		Register(".pdf", pdfextractor.NewExtractor(splitter, logger)).
		Register(".xlsx", spreadsheet.NewExtractor(logger))

	store := usecase.NewDualContentStore(index, raw, embedder, logger)

	ingestUC := usecase.NewIngestDocumentUseCase(
		usecase.IngestConfig{
			SourceDir:          cfg.SourceDir,
			ImageDir:           cfg.ImageDir,
			SourceExtensions:   router.Extensions(),
			ImageRecencyWindow: cfg.ImageRecencyWindow,
			SummaryMaxInFlight: cfg.SummaryMaxInFlight,
		},
		router,
		summarizer,
		describer,
		store,
		docLedger,
		checkpoints,
		images,
		logger,
	)

	retrieveUC := metrics.NewInstrumentedRetriever(
		usecase.NewRetrieveUseCase(index, raw, embedder, logger),
		pipeMetrics,
	)
	answerUC := usecase.NewAnswerUseCase(
		usecase.AnswerConfig{
			Persona:   cfg.AnswerPersona,
			TopK:      cfg.RetrieveTopK,
			Threshold: cfg.SimilarityThreshold,
		},
		retrieveUC,
		generator,
		logger,
	)

	var queue *natsqueue.Queue
	if opts.EnableQueue {
		queue, err = natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init ingest queue: %w", err)
		}
		closers = append(closers, queue.Close)
	}

	return &App{
		Config:           cfg,
		Logger:           logger,
		SourceExtensions: router.Extensions(),
		Store:    store,
		IngestUC: ingestUC,
		Retrieve: retrieveUC,
		AnswerUC: answerUC,
		Metrics:  pipeMetrics,
		Queue:    queue,
		closeFn: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
