package app

import (
	"context"
	"fmt"

	"github.com/ent0n29/aegis/internal/config"
	"github.com/ent0n29/aegis/internal/embed"
	"github.com/ent0n29/aegis/internal/httpapi"
	"github.com/ent0n29/aegis/internal/ingest"
	"github.com/ent0n29/aegis/internal/llm"
	"github.com/ent0n29/aegis/internal/memory"
	"github.com/ent0n29/aegis/internal/observability"
	"github.com/ent0n29/aegis/internal/pipeline"
	"github.com/ent0n29/aegis/internal/policy"
	"github.com/ent0n29/aegis/internal/prompt"
	"github.com/ent0n29/aegis/internal/retrieval"
	"github.com/ent0n29/aegis/internal/semcache"
	"github.com/ent0n29/aegis/internal/vectorstore"
)

// BuildResult holds the wired service graph.
type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *pipeline.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pools, redis connections).
	Cleanup func() error
}

// sanitizerEvents bridges the sanitizer's event hook onto Prometheus.
type sanitizerEvents struct {
	metrics *observability.Metrics
}

func (e sanitizerEvents) SanitizerEvent(event string) {
	e.metrics.SanitizerEvents.WithLabelValues(event).Inc()
	if event == "failed_closed" {
		e.metrics.ObserveIndicator(event)
	}
}

// Build constructs every component of the chat service from config.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	detector, err := policy.NewDetector(policy.DetectorConfig{
		Mode:    cfg.DLPMode,
		URL:     cfg.DLPURL,
		APIKey:  cfg.DLPAPIKey,
		Timeout: cfg.DLPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("pii detector init failed: %w", err)
	}
	sanitizer := policy.NewSanitizer(detector, cfg.DLPTimeout, sanitizerEvents{metrics})

	embedder, err := embed.NewClient(embed.Config{
		Mode:       cfg.EmbedMode,
		URL:        cfg.EmbedURL,
		APIKey:     cfg.EmbedAPIKey,
		Model:      cfg.EmbedModel,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding client init failed: %w", err)
	}

	vectors, err := vectorstore.NewStore(ctx, cfg.DatabaseURL, cfg.CollectionName, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("vector store init failed: %w", err)
	}

	history, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	cache, err := semcache.New(semcache.RedisConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		Key:        cfg.CacheKey,
		MaxEntries: cfg.CacheMaxEntries,
		Threshold:  cfg.CacheHitThreshold,
	})
	if err != nil {
		_ = vectors.Close()
		_ = history.Close()
		return nil, fmt.Errorf("semantic cache init failed: %w", err)
	}

	generator, err := llm.NewGenerator(llm.Config{
		Mode:    cfg.LLMMode,
		URL:     cfg.LLMURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	})
	if err != nil {
		_ = vectors.Close()
		_ = history.Close()
		_ = cache.Close()
		return nil, fmt.Errorf("generator init failed: %w", err)
	}

	orchestrator := pipeline.New(pipeline.Options{
		Sanitizer:    sanitizer,
		Retriever:    retrieval.New(embedder, vectors, cfg.RetrievalTopK, cfg.RetrievalMinScore),
		History:      history,
		Cache:        cache,
		Assembler:    prompt.NewAssembler(cfg.SystemInstructions),
		Generator:    generator,
		Metrics:      metrics,
		HistoryLimit: cfg.HistoryReplayLimit,
		StreamGuard:  cfg.StreamGuard,
		StageTimeout: cfg.StageTimeout,
	})

	api := httpapi.New(cfg, orchestrator, metrics)

	cleanup := func() error {
		var firstErr error
		if err := cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := history.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}

// BuildIngestor constructs the batch ingestion path from config. It shares
// the embedding client and vector store configuration with the service so
// indexed vectors and query vectors live in the same space.
func BuildIngestor(ctx context.Context, cfg config.Config, chunkSize, chunkOverlap int) (*ingest.Ingestor, func() error, error) {
	chunker, err := ingest.NewChunker(chunkSize, chunkOverlap)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := embed.NewClient(embed.Config{
		Mode:       cfg.EmbedMode,
		URL:        cfg.EmbedURL,
		APIKey:     cfg.EmbedAPIKey,
		Model:      cfg.EmbedModel,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding client init failed: %w", err)
	}

	vectors, err := vectorstore.NewStore(ctx, cfg.DatabaseURL, cfg.CollectionName, cfg.EmbeddingDim)
	if err != nil {
		return nil, nil, fmt.Errorf("vector store init failed: %w", err)
	}

	return ingest.NewIngestor(chunker, embedder, vectors), vectors.Close, nil
}
