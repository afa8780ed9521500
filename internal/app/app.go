// Package app wires configuration, storage, providers and the pipeline into
// a runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/chunker"
	"github.com/corpora-hq/corpora/internal/core/database"
	"github.com/corpora-hq/corpora/internal/core/embcache"
	"github.com/corpora-hq/corpora/internal/core/extract"
	"github.com/corpora-hq/corpora/internal/core/llm"
	"github.com/corpora-hq/corpora/internal/core/objectstore"
	"github.com/corpora-hq/corpora/internal/core/pipeline"
	"github.com/corpora-hq/corpora/internal/core/retriever"
)

// App holds every long-lived component of the service.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           core.DbClient
	Object       core.ObjectClient
	Orchestrator *pipeline.Orchestrator
	Server       *Server

	// QueryEmbedder wraps the raw embedder with the Redis cache when enabled.
	QueryEmbedder core.EmbeddingProvider

	llmProvider core.LLMProvider
	closers     []func()
}

// New builds a fully wired App. Callers own the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	db, err := database.NewClient(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	logger.Info("database ready")

	obj, err := objectstore.NewS3Client(initCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	a.Object = obj
	logger.Info("object storage ready")

	embedder, err := a.buildEmbedder(initCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	llmProvider, err := llm.NewGeminiLLM(initCtx, cfg.AI.GeminiAPIKey, cfg.AI.GenModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init completion provider: %w", err)
	}
	a.llmProvider = llmProvider
	a.closers = append(a.closers, func() { _ = llmProvider.Close() })

	queryEmbedder := embedder
	if cfg.Cache.Enabled {
		cached, err := embcache.New(embedder, cfg.Cache.Addrs, time.Duration(cfg.Cache.TTLSec)*time.Second, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		a.closers = append(a.closers, cached.Close)
		queryEmbedder = cached
		logger.Info("embedding cache ready", zap.Strings("addrs", cfg.Cache.Addrs))
	}
	a.QueryEmbedder = queryEmbedder

	strategy, err := a.buildStrategy(cfg, llmProvider, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	extractor := extract.NewDocconvExtractor(cfg.Pipeline.MinTextLength, false)

	a.Orchestrator = pipeline.NewOrchestrator(
		db,
		obj,
		extractor,
		strategy,
		embedder,
		pipeline.Config{
			BatchCap:       cfg.Pipeline.BatchCap,
			EmbedBatchSize: cfg.Pipeline.EmbedBatchSize,
			MaxRetries:     cfg.Pipeline.MaxRetries,
			RetryCooldown:  time.Duration(cfg.Pipeline.RetryCooldownSec) * time.Second,
			StageTimeout:   time.Duration(cfg.Pipeline.StageTimeoutSec) * time.Second,
		},
		logger,
	)

	a.Server = NewServer(cfg, a, logger)
	return a, nil
}

func (a *App) buildEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.AI.EmbedProvider {
	case "openai":
		return llm.NewOpenAIEmbedder(llm.OpenAIEmbedderConfig{
			APIKey:     cfg.AI.OpenAIAPIKey,
			BaseURL:    cfg.AI.OpenAIBaseURL,
			Model:      cfg.AI.EmbedModel,
			Dimensions: cfg.AI.EmbedDim,
		}), nil
	case "gemini":
		emb, err := llm.NewGeminiEmbedder(ctx, cfg.AI.GeminiAPIKey, cfg.AI.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini embedder: %w", err)
		}
		a.closers = append(a.closers, func() { _ = emb.Close() })
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.AI.EmbedProvider)
	}
}

func (a *App) buildStrategy(cfg *config.Config, llmProvider core.LLMProvider, logger *zap.Logger) (chunker.Strategy, error) {
	switch cfg.Pipeline.ChunkStrategy {
	case "semantic":
		return chunker.NewSemanticStrategy(llmProvider, cfg.Pipeline.SemanticBlockSize, logger), nil
	case "window":
		return chunker.NewWindowStrategy(cfg.Pipeline.WindowSize), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", cfg.Pipeline.ChunkStrategy)
	}
}

// RetrievalBudget builds the context selection budget from configuration.
func (a *App) RetrievalBudget() retriever.Budget {
	return retriever.Budget{
		TokenLimit:       a.Config.Pipeline.ContextTokenLimit,
		MaxChunkTokens:   a.Config.Pipeline.MaxChunkTokens,
		RelevanceCeiling: a.Config.Pipeline.RelevanceCeiling,
	}
}

// Close releases every component in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
