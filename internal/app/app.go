// Package app provides application initialization and dependency injection.
//
// App is the container that wires configuration, database, AI provider and
// the question-answering pipeline together. Components receive their
// collaborators through constructors; nothing reaches for globals.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rogerjeasy/hslu-rag-backend/internal/config"
	"github.com/rogerjeasy/hslu-rag-backend/internal/course"
	"github.com/rogerjeasy/hslu-rag-backend/internal/history"
	"github.com/rogerjeasy/hslu-rag-backend/internal/ingest"
	"github.com/rogerjeasy/hslu-rag-backend/internal/query"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Courses      *course.Service
	VectorStore  *vectorstore.Store
	History      *history.Store
	Ingest       *ingest.Pipeline
	Orchestrator *query.Orchestrator

	traceShutdown func(context.Context) error
}

// Close releases all resources held by the application.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.traceShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return nil
}
