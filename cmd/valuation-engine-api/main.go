// Package main provides the valuation engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meridianlabs/valuation-engine/internal/cache"
	"github.com/meridianlabs/valuation-engine/internal/chunk"
	"github.com/meridianlabs/valuation-engine/internal/config"
	"github.com/meridianlabs/valuation-engine/internal/docparse"
	"github.com/meridianlabs/valuation-engine/internal/embedding"
	"github.com/meridianlabs/valuation-engine/internal/extract"
	"github.com/meridianlabs/valuation-engine/internal/job"
	"github.com/meridianlabs/valuation-engine/internal/llm"
	"github.com/meridianlabs/valuation-engine/internal/merge"
	"github.com/meridianlabs/valuation-engine/internal/normalize"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/pipeline"
	"github.com/meridianlabs/valuation-engine/internal/storage"
	"github.com/meridianlabs/valuation-engine/internal/validate"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "valuation-engine",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting valuation engine API")

	deps, cleanup, err := buildDependencies(logger, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer cleanup()

	router := NewRouter(logger, cfg, deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
			srv.Close()
		}
	}
}

// buildDependencies constructs the database, caches, service clients, and
// pipeline. The returned cleanup closes held connections.
func buildDependencies(logger *observability.Logger, cfg *config.Config) (Dependencies, func(), error) {
	driver := cfg.Database.Driver
	if driver == "sqlite" {
		driver = "sqlite3"
	}
	db, err := storage.Open(driver, cfg.DatabaseDSN())
	if err != nil {
		return Dependencies{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		return Dependencies{}, nil, fmt.Errorf("ensure schema: %w", err)
	}

	var extractCache cache.Client
	var publisher job.Publisher
	var redisClient *cache.RedisClient
	if cfg.Cache.Driver == "redis" {
		redisClient, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			db.Close()
			return Dependencies{}, nil, fmt.Errorf("connect redis: %w", err)
		}
		extractCache = redisClient
		publisher = redisClient
	} else {
		extractCache = cache.NewMemoryClient(cfg.Cache.ExtractCapacity)
	}

	parser, err := docparse.NewClient(docparse.Config{
		BaseURL: cfg.DocParse.BaseURL,
		APIKey:  cfg.DocParse.APIKey,
		Timeout: cfg.DocParse.Timeout,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Document-parsing service unavailable, relying on fallback tiers")
		parser = nil
	}

	completer, err := llm.NewClient(logger, llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Models:     []string{cfg.LLM.PrimaryModel, cfg.LLM.SecondaryModel},
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		db.Close()
		return Dependencies{}, nil, fmt.Errorf("create completion client: %w", err)
	}

	var embedder embedding.Client
	if cfg.Embedding.APIKey == "" {
		logger.Warn().Msg("No embedding API key configured, using deterministic mock embeddings")
		embedder = embedding.NewMockClient(cfg.Embedding.Dimension)
	} else {
		embedder, err = embedding.NewHTTPClient(embedding.Config{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
		if err != nil {
			db.Close()
			return Dependencies{}, nil, fmt.Errorf("create embedding client: %w", err)
		}
	}

	policy, err := merge.ParsePolicy(cfg.Pipeline.MergePolicy)
	if err != nil {
		db.Close()
		return Dependencies{}, nil, err
	}

	var normalizerParser docparse.Parser
	if parser != nil {
		normalizerParser = parser
	}

	documents := storage.NewDocumentRepository(db)
	metrics := storage.NewMetricsRepository(db)

	var enhancer *validate.Enhancer
	if cfg.Pipeline.EnhancedEnabled {
		enhancer = validate.NewEnhancer(logger, validate.Options{Completer: completer})
	}

	pl := pipeline.New(logger, pipeline.Options{
		Normalizer: normalize.NewNormalizer(logger, normalize.Options{
			Parser:      normalizerParser,
			MaxPageSize: cfg.Pipeline.MaxPageSize,
		}),
		Chunker: chunk.New(cfg.Pipeline.MaxChunkSize, cfg.Pipeline.ChunkOverlap),
		Batcher: embedding.NewBatcher(logger, embedder, cfg.Embedding.Concurrency),
		Extractor: extract.NewExtractor(logger, extract.Options{
			Completer:      completer,
			Cache:          extractCache,
			CacheTTL:       cfg.Cache.TTL,
			MaxSegmentSize: cfg.Pipeline.MaxSegmentSize,
		}),
		Enhancer:    enhancer,
		Documents:   documents,
		Metrics:     metrics,
		MergePolicy: policy,
	})

	deps := Dependencies{
		Jobs:      job.NewManager(logger, publisher),
		Pipeline:  pl,
		Documents: documents,
		Metrics:   metrics,
	}

	cleanup := func() {
		if redisClient != nil {
			redisClient.Close()
		}
		db.Close()
	}
	return deps, cleanup, nil
}
