// Package ingest turns raw course documents into searchable chunks.
//
// A document flows through the pipeline in three stages: split into
// token-bounded chunks, embed each chunk, then upsert into the vector
// store keyed by (course_id, document_id, position) so re-ingesting a
// revised document replaces its old chunks in place. Chunks past the new
// revision's length are deleted so nothing stale survives a shrink.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rogerjeasy/hslu-rag-backend/internal/chunker"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

// Splitter cuts a document into chunks.
type Splitter interface {
	Split(text string) ([]chunker.Chunk, error)
}

// Embedder converts chunk texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter writes chunk records and removes stale ones.
type Upserter interface {
	Upsert(ctx context.Context, rec vectorstore.Record) error
	DeleteByDocument(ctx context.Context, courseID, documentID string) (int64, error)
	DeleteDocumentTail(ctx context.Context, courseID, documentID string, fromPosition int) (int64, error)
}

// Document is one unit of course material to index.
type Document struct {
	CourseID string
	ID       string
	Text     string
	Metadata map[string]string
}

// IndexResult reports what a single Index call did.
type IndexResult struct {
	DocumentID string
	Chunks     int
	Tokens     int
}

// Pipeline indexes documents into a course's vector store.
type Pipeline struct {
	splitter Splitter
	embedder Embedder
	store    Upserter
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(splitter Splitter, embedder Embedder, store Upserter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Index chunks, embeds and stores one document. Chunk positions are
// assigned in document order, so re-indexing a document overwrites its
// previous chunks position by position.
func (p *Pipeline) Index(ctx context.Context, doc Document) (*IndexResult, error) {
	if doc.CourseID == "" || doc.ID == "" {
		return nil, fmt.Errorf("ingest: document needs a course id and a document id")
	}

	chunks, err := p.splitter.Split(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", doc.ID, err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", doc.ID, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.ID, len(vectors), len(chunks))
	}

	tokens := 0
	for i, ch := range chunks {
		rec := vectorstore.Record{
			CourseID:   doc.CourseID,
			DocumentID: doc.ID,
			Position:   ch.Position,
			Content:    ch.Content,
			Metadata:   chunkMetadata(doc, ch),
			Embedding:  vectors[i],
		}
		if err := p.store.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("store chunk %d of %s: %w", ch.Position, doc.ID, err)
		}
		tokens += ch.TokenCount
	}

	// A shorter revision leaves the previous one's tail chunks behind;
	// drop everything past the last position we just wrote.
	if _, err := p.store.DeleteDocumentTail(ctx, doc.CourseID, doc.ID, len(chunks)); err != nil {
		return nil, fmt.Errorf("prune stale chunks of %s: %w", doc.ID, err)
	}

	p.logger.Info("document indexed",
		"course_id", doc.CourseID,
		"document_id", doc.ID,
		"chunks", len(chunks),
		"tokens", tokens)

	return &IndexResult{DocumentID: doc.ID, Chunks: len(chunks), Tokens: tokens}, nil
}

// Remove deletes every chunk of a document within one course and reports
// how many were removed. Removing an unknown document is not an error.
func (p *Pipeline) Remove(ctx context.Context, courseID, documentID string) (int64, error) {
	if courseID == "" || documentID == "" {
		return 0, fmt.Errorf("ingest: course id and document id are required")
	}
	affected, err := p.store.DeleteByDocument(ctx, courseID, documentID)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", documentID, err)
	}
	p.logger.Info("document removed",
		"course_id", courseID,
		"document_id", documentID,
		"chunks", affected)
	return affected, nil
}

// chunkMetadata merges document metadata with the chunk's own section
// heading. The chunk section wins over a document-level "section" key.
func chunkMetadata(doc Document, ch chunker.Chunk) map[string]string {
	if len(doc.Metadata) == 0 && ch.Section == "" {
		return nil
	}
	meta := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if ch.Section != "" {
		meta["section"] = ch.Section
	}
	return meta
}
