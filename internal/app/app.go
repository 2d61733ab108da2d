// Package app wires the service together: stores, backends, the ingestion
// orchestrator, the query service and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strataline/strataline/internal/config"
	"github.com/strataline/strataline/internal/core"
	"github.com/strataline/strataline/internal/core/chunk"
	"github.com/strataline/strataline/internal/core/database"
	"github.com/strataline/strataline/internal/core/embed"
	"github.com/strataline/strataline/internal/core/extract"
	"github.com/strataline/strataline/internal/core/index"
	"github.com/strataline/strataline/internal/core/llm"
	"github.com/strataline/strataline/internal/core/llm/mock"
	"github.com/strataline/strataline/internal/core/objectstore"
	"github.com/strataline/strataline/internal/deadletter"
	"github.com/strataline/strataline/internal/ingest"
	"github.com/strataline/strataline/internal/query"
)

// store is the combined persistence contract the app wires against.
type store interface {
	core.DocumentStore
	core.ConversationStore
}

type App struct {
	Store        store
	Objects      core.ObjectClient
	Indexes      core.IndexProvider
	Orchestrator *ingest.Orchestrator
	Query        *query.Service
	Server       *Server

	logger    *slog.Logger
	closeFns  []func() error
	generator *embed.Generator
}

// NewApp builds the full service. With no DATABASE_URL the document and
// index stores run in memory, which is the local development mode.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := database.NewPgStore(setupCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closeFns = append(a.closeFns, pg.Close)
		indexes, err := index.NewPgProvider(pg.DB(), logger)
		if err != nil {
			return nil, err
		}
		a.Store, a.Indexes = pg, indexes
		logger.Info("database initialized and ready")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.Store = database.NewMemoryStore()
		a.Indexes = index.NewMemoryProvider(logger)
	}

	objects, err := objectstore.NewS3Client(setupCtx, objectstore.Config{
		Region:    cfg.AwsRegion,
		AccessKey: cfg.AwsAccessKey,
		SecretKey: cfg.AwsSecretKey,
		Bucket:    cfg.BucketName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("object client: %w", err)
	}
	a.Objects = objects

	var embedder core.EmbeddingProvider
	var generator core.LLMProvider
	if cfg.AIAPIKey != "" {
		ge, err := llm.NewGeminiEmbedder(setupCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		a.closeFns = append(a.closeFns, ge.Close)
		gl, err := llm.NewGeminiLLM(setupCtx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		a.closeFns = append(a.closeFns, gl.Close)
		embedder, generator = ge, gl
	} else {
		logger.Warn("GEMINI_API_KEY not set, using deterministic mock backends")
		embedder, generator = mock.NewEmbedder(), mock.NewLLM()
	}

	embedGen, err := embed.NewGenerator(embedder, embed.Config{
		Concurrency: cfg.Pipeline.EmbedConcurrency,
		BatchSize:   cfg.Pipeline.EmbedBatchSize,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.generator = embedGen

	dlq, err := deadletter.OpenBadger(cfg.DeadLetterDir, logger)
	if err != nil {
		return nil, fmt.Errorf("dead-letter queue: %w", err)
	}
	a.closeFns = append(a.closeFns, dlq.Close)

	a.Orchestrator = ingest.NewOrchestrator(
		a.Store,
		a.Objects,
		extract.NewDocconvExtractor(false),
		embedGen,
		a.Indexes,
		dlq,
		ingest.Config{
			Workers:   cfg.Pipeline.Workers,
			QueueSize: cfg.Pipeline.QueueSize,
			Chunking: chunk.Config{
				Size:    cfg.Pipeline.ChunkSize,
				Overlap: cfg.Pipeline.ChunkOverlap,
			},
			Retry: ingest.RetryPolicy{
				Attempts:   uint(cfg.Pipeline.RetryAttempts),
				BaseDelay:  time.Duration(cfg.Pipeline.RetryBaseSecs) * time.Second,
				EmbedDelay: time.Duration(cfg.Pipeline.RetryEmbedSecs) * time.Second,
			},
		},
		logger,
	)

	a.Query = query.NewService(
		a.Store,
		a.Store,
		query.NewRetriever(embedder, a.Indexes, logger),
		query.NewGenerator(generator, logger),
		query.Config{
			K:            cfg.Pipeline.QueryK,
			HistoryLimit: cfg.Pipeline.HistoryLimit,
			Timeout:      time.Duration(cfg.Pipeline.QueryTimeoutSecs) * time.Second,
			ExcerptChars: cfg.Pipeline.ExcerptChars,
		},
		logger,
	)

	a.Server = NewServer(cfg, a.Store, a.Objects, a.Indexes, a.Orchestrator, a.Query, dlq, logger)
	return a, nil
}

// Start launches the ingestion workers and the HTTP server. It blocks until
// the server stops.
func (a *App) Start(ctx context.Context) error {
	a.Orchestrator.Start(ctx)
	return a.Server.Start()
}

func (a *App) Close() {
	if a.generator != nil {
		a.generator.Release()
	}
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			a.logger.Error("shutdown cleanup failed", "err", err)
		}
	}
}
