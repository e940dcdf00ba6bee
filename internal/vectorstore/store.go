// Package vectorstore adapts PostgreSQL + pgvector as the chunk vector
// index. It stores (chunk, metadata, embedding) rows and serves k-nearest
// cosine similarity queries filtered by course.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/rogerjeasy/hslu-rag-backend/internal/postgres"
)

var (
	// ErrVectorStore is the base error for all vector store failures.
	ErrVectorStore = errors.New("vector store failed")

	// ErrNotFound indicates the requested chunk does not exist.
	ErrNotFound = fmt.Errorf("%w: chunk not found", ErrVectorStore)
)

// Querier defines the database operations the store needs.
// Interfaces are defined by the consumer, not the provider, so tests can
// substitute a mock for the pgx-backed implementation.
type Querier interface {
	UpsertChunk(ctx context.Context, arg postgres.UpsertChunkParams) error
	SearchChunks(ctx context.Context, arg postgres.SearchChunksParams) ([]postgres.SearchChunksRow, error)
	DeleteChunk(ctx context.Context, id pgtype.UUID) (int64, error)
	DeleteChunksByDocument(ctx context.Context, arg postgres.DeleteChunksByDocumentParams) (int64, error)
	DeleteChunkTail(ctx context.Context, arg postgres.DeleteChunkTailParams) (int64, error)
	CountChunksByCourse(ctx context.Context, courseID string) (int64, error)
}

// Store manages chunk embeddings. Safe for concurrent use.
type Store struct {
	queries   Querier
	dimension int
	logger    *slog.Logger
}

// New creates a Store. dimension must match the vector column width.
func New(queries Querier, dimension int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: queries, dimension: dimension, logger: logger}
}

// Upsert writes a record, overwriting any existing chunk at the same
// (course, document, position). Last write wins. Document ids only need to
// be unique within a course.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != s.dimension {
		return fmt.Errorf("%w: embedding dimension %d, want %d",
			ErrVectorStore, len(rec.Embedding), s.dimension)
	}

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshaling metadata: %w", ErrVectorStore, err)
	}

	err = s.queries.UpsertChunk(ctx, postgres.UpsertChunkParams{
		CourseID:   rec.CourseID,
		DocumentID: rec.DocumentID,
		Position:   int32(rec.Position),
		Content:    rec.Content,
		Metadata:   metadataJSON,
		Embedding:  pgvector.NewVector(rec.Embedding),
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", ErrVectorStore, err)
	}

	s.logger.Debug("upserted chunk",
		"course_id", rec.CourseID,
		"document_id", rec.DocumentID,
		"position", rec.Position)
	return nil
}

// Search returns the chunks most similar to vector within courseID,
// ordered by descending similarity with ascending id as tie-break.
func (s *Store) Search(ctx context.Context, vector []float32, courseID string, opts ...SearchOption) ([]Chunk, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, want %d",
			ErrVectorStore, len(vector), s.dimension)
	}

	cfg := buildSearchConfig(opts)

	var filterJSON []byte
	if len(cfg.filter) > 0 {
		var err error
		filterJSON, err = json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("%w: marshaling filter: %w", ErrVectorStore, err)
		}
	}

	rows, err := s.queries.SearchChunks(ctx, postgres.SearchChunksParams{
		Embedding:     pgvector.NewVector(vector),
		CourseID:      courseID,
		Metadata:      filterJSON,
		MinSimilarity: cfg.minScore,
		Limit:         int32(cfg.topK),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrVectorStore, err)
	}

	chunks := make([]Chunk, 0, len(rows))
	for _, row := range rows {
		chunk, err := rowToChunk(row)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	s.logger.Debug("vector search",
		"course_id", courseID,
		"top_k", cfg.topK,
		"min_score", cfg.minScore,
		"results", len(chunks))
	return chunks, nil
}

// Delete removes a single chunk. Returns ErrNotFound for unknown ids.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	affected, err := s.queries.DeleteChunk(ctx, uuidToPg(id))
	if err != nil {
		return fmt.Errorf("%w: delete: %w", ErrVectorStore, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteByDocument removes every chunk of a source document within one
// course and returns the number removed. Deleting an unknown document is
// not an error.
func (s *Store) DeleteByDocument(ctx context.Context, courseID, documentID string) (int64, error) {
	affected, err := s.queries.DeleteChunksByDocument(ctx, postgres.DeleteChunksByDocumentParams{
		CourseID:   courseID,
		DocumentID: documentID,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete by document: %w", ErrVectorStore, err)
	}
	s.logger.Debug("deleted document chunks",
		"course_id", courseID,
		"document_id", documentID,
		"count", affected)
	return affected, nil
}

// DeleteDocumentTail removes a document's chunks at positions >= fromPosition
// within one course. Re-ingestion uses it to drop chunks the new revision no
// longer produces.
func (s *Store) DeleteDocumentTail(ctx context.Context, courseID, documentID string, fromPosition int) (int64, error) {
	affected, err := s.queries.DeleteChunkTail(ctx, postgres.DeleteChunkTailParams{
		CourseID:     courseID,
		DocumentID:   documentID,
		FromPosition: int32(fromPosition),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete document tail: %w", ErrVectorStore, err)
	}
	return affected, nil
}

// Count returns the number of chunks stored for a course.
func (s *Store) Count(ctx context.Context, courseID string) (int64, error) {
	n, err := s.queries.CountChunksByCourse(ctx, courseID)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrVectorStore, err)
	}
	return n, nil
}

func rowToChunk(row postgres.SearchChunksRow) (Chunk, error) {
	var metadata map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return Chunk{}, fmt.Errorf("%w: unmarshaling metadata: %w", ErrVectorStore, err)
		}
	}
	return Chunk{
		ID:         pgToUUID(row.ID),
		CourseID:   row.CourseID,
		DocumentID: row.DocumentID,
		Position:   int(row.Position),
		Content:    row.Content,
		Metadata:   metadata,
		Similarity: row.Similarity,
	}, nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}
