package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/answer"
	"github.com/docqa/backend/internal/cache/redis"
	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/enrichment"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/reputation"
	"github.com/docqa/backend/internal/search/web"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/internal/vector/memory"
	"github.com/docqa/backend/internal/vector/qdrant"
	"github.com/docqa/backend/internal/vector/zilliz"
	"github.com/docqa/backend/pkg/config"
	appLogger "github.com/docqa/backend/pkg/logger"
)

// services holds the long-lived components shared by every command.
type services struct {
	db        *sqlite.Client
	index     vector.Index
	embedder  embedding.Embedder
	processor *ingestion.Processor
	ledger    *reputation.Ledger
	engine    *query.Engine
	closers   []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			appLogger.Warn("Failed to close resource", zap.Error(err))
		}
	}
}

func buildServices(ctx context.Context, cfg *config.Config) (_ *services, err error) {
	svc := &services{}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.db, err = sqlite.NewClient(cfg.SQLite.Path, cfg.SQLite.BusyTimeoutMS)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite client: %w", err)
	}
	svc.closers = append(svc.closers, svc.db.Close)

	if err = svc.db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if cfg.Redis.Enabled {
		cache, cacheErr := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if cacheErr != nil {
			appLogger.Warn("Embedding cache disabled", zap.Error(cacheErr))
		} else {
			svc.closers = append(svc.closers, cache.Close)
			ttl := time.Duration(cfg.Redis.EmbeddingTTLMinute) * time.Minute
			embedder = embedding.NewCached(embedder, cache, cfg.Embedding.Provider+":"+cfg.Embedding.Model, ttl)
		}
	}

	gate := ingestion.NewGate(embedder, cfg.Embedding.MaxConcurrency)
	svc.embedder = gate

	svc.index, err = openIndex(ctx, cfg.Vector, svc)
	if err != nil {
		return nil, err
	}
	if err = svc.index.EnsureCollection(ctx, gate.Dimension()); err != nil {
		return nil, fmt.Errorf("failed to prepare vector collection: %w", err)
	}

	vectorizer := ingestion.NewVectorizer(
		gate,
		svc.index,
		cfg.Embedding.BatchSize,
		time.Duration(cfg.Embedding.RequestDelayMS)*time.Millisecond,
		cfg.Embedding.MaxConcurrency,
	)
	svc.processor = ingestion.NewProcessor(svc.db, vectorizer, svc.index, cfg.Chunking.SizeTokens, cfg.Chunking.OverlapTokens)
	svc.ledger = reputation.NewLedger(svc.db)

	var generator answer.Generator
	if cfg.LLMEnabled() {
		generator = llm.NewClient(llm.Options{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		})
	} else {
		appLogger.Info("No LLM key configured, answers will be extractive")
	}

	webClient := web.NewClient(web.Config{
		Provider:     cfg.Enrichment.SearchProvider,
		GoogleAPIKey: cfg.Enrichment.GoogleAPIKey,
		GoogleCX:     cfg.Enrichment.GoogleCX,
		SerpAPIKey:   cfg.Enrichment.SerpAPIKey,
		Timeout:      time.Duration(cfg.Enrichment.TimeoutSec) * time.Second,
	})

	enrichEnabled := cfg.Enrichment.Enabled
	if enrichEnabled && !webClient.Configured() {
		appLogger.Warn("Enrichment enabled but no search provider credentials configured",
			zap.String("provider", cfg.Enrichment.SearchProvider),
		)
		enrichEnabled = false
	}

	orchestrator := enrichment.NewOrchestrator(enrichment.Config{
		Enabled:       enrichEnabled,
		MinConfidence: cfg.Enrichment.MinConfidence,
		MaxDocs:       cfg.Enrichment.MaxDocs,
		MaxPerTopic:   cfg.Enrichment.MaxPerTopic,
		MaxResults:    cfg.Enrichment.MaxResults,
		MinPageChars:  cfg.Enrichment.MinPageChars,
		FetchTimeout:  time.Duration(cfg.Enrichment.TimeoutSec) * time.Second,
	}, webClient, webClient, svc.processor)

	retriever := query.NewRetriever(gate, svc.index, svc.db, svc.ledger, cfg.Retrieval.ReputationBoost)
	svc.engine = query.NewEngine(svc.db, retriever, answer.NewSynthesizer(generator), orchestrator, query.Options{
		TopK:             cfg.Retrieval.TopK,
		MaxContextChunks: cfg.Retrieval.MaxContextChunks,
	})

	appLogger.Info("Services initialized",
		zap.String("vector_provider", cfg.Vector.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("embedding_dim", gate.Dimension()),
		zap.Bool("llm", generator != nil),
		zap.Bool("enrichment", enrichEnabled),
	)

	return svc, nil
}

func openIndex(ctx context.Context, cfg config.VectorConfig, svc *services) (vector.Index, error) {
	switch cfg.Provider {
	case "milvus", "zilliz":
		client, err := zilliz.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to create milvus client: %w", err)
		}
		svc.closers = append(svc.closers, client.Close)
		return client, nil
	case "qdrant":
		client, err := qdrant.NewClient(qdrant.Options{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.CollectionName,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create qdrant client: %w", err)
		}
		svc.closers = append(svc.closers, client.Close)
		return client, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Provider)
	}
}
