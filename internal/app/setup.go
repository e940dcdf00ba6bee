package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rogerjeasy/hslu-rag-backend/db"
	"github.com/rogerjeasy/hslu-rag-backend/internal/assembler"
	"github.com/rogerjeasy/hslu-rag-backend/internal/chunker"
	"github.com/rogerjeasy/hslu-rag-backend/internal/config"
	"github.com/rogerjeasy/hslu-rag-backend/internal/course"
	"github.com/rogerjeasy/hslu-rag-backend/internal/embedding"
	"github.com/rogerjeasy/hslu-rag-backend/internal/generation"
	"github.com/rogerjeasy/hslu-rag-backend/internal/history"
	"github.com/rogerjeasy/hslu-rag-backend/internal/ingest"
	"github.com/rogerjeasy/hslu-rag-backend/internal/observability"
	"github.com/rogerjeasy/hslu-rag-backend/internal/postgres"
	"github.com/rogerjeasy/hslu-rag-backend/internal/query"
	"github.com/rogerjeasy/hslu-rag-backend/internal/retriever"
	"github.com/rogerjeasy/hslu-rag-backend/internal/retry"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before the error is returned.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.traceShutdown = shutdown
	}

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	queries := postgres.New(pool)

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	retryCfg := retry.Config{
		MaxRetries:      cfg.RetryAttempts,
		InitialInterval: cfg.RetryBackoff,
		MaxInterval:     10 * time.Second,
	}

	embedClient := embedding.New(embedder, cfg.EmbedderDimension, logger,
		embedding.WithRetry(retryCfg),
		embedding.WithTimeout(cfg.EmbedTimeout),
	)

	a.VectorStore = vectorstore.New(queries, cfg.EmbedderDimension, logger)
	a.Courses = course.New(queries, logger)
	a.History = history.New(queries, pool, logger)

	split, err := chunker.New(chunker.Config{
		MaxTokens:        cfg.ChunkMaxTokens,
		OverlapTokens:    cfg.ChunkOverlapTokens,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	a.Ingest = ingest.New(split, embedClient, a.VectorStore, logger)

	ret := retriever.New(embedClient, a.VectorStore, retriever.Config{
		TopK:           cfg.RetrieveTopK,
		MinSimilarity:  cfg.MinSimilarity,
		NearTieEpsilon: cfg.NearTieEpsilon,
		SearchTimeout:  cfg.SearchTimeout,
	}, logger)

	asm := assembler.New(assembler.Config{
		MaxTokens:      cfg.ContextMaxTokens,
		DedupThreshold: cfg.DedupThreshold,
	}, logger)

	genClient := generation.New(g, cfg.FullModelName(), logger,
		generation.WithRetry(retryCfg),
		generation.WithTimeout(cfg.GenerateTimeout),
	)

	a.Orchestrator = query.New(a.Courses, ret, asm, genClient, a.History, query.Config{
		TopK:             cfg.RetrieveTopK,
		ContextMaxTokens: cfg.ContextMaxTokens,
		HistoryTurns:     cfg.HistoryTurns,
		IncludeHistory:   cfg.IncludeHistory,
		AllowUngrounded:  cfg.AllowUngrounded,
		Budget:           cfg.QueryBudget,
	}, logger)

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
	}

	slog.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
