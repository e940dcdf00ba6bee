// Package retriever composes the embedding client and vector store into
// scoped candidate retrieval for one query.
//
// Ranking comes from the vector store. Because embedding similarity is noisy
// at the third decimal, candidates whose scores sit within a configured
// near-tie window are re-ordered by lexical overlap with the query, which is
// stable across embedding model updates.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

// Embedder turns a query string into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher serves scoped k-nearest queries.
type Searcher interface {
	Search(ctx context.Context, vector []float32, courseID string, opts ...vectorstore.SearchOption) ([]vectorstore.Chunk, error)
}

// Config holds retrieval tunables.
type Config struct {
	// TopK is the default number of candidates when the caller passes k <= 0.
	TopK int

	// MinSimilarity drops candidates below this cosine similarity. A query
	// where nothing clears the floor yields an empty result, not an error.
	MinSimilarity float64

	// NearTieEpsilon is the score window within which candidates are
	// considered tied and re-ranked lexically.
	NearTieEpsilon float64

	// SearchTimeout bounds a single vector search. Zero means no bound
	// beyond the caller's context.
	SearchTimeout time.Duration
}

// Retriever fetches ranked course-scoped chunks for a query.
// Safe for concurrent use.
type Retriever struct {
	embedder Embedder
	store    Searcher
	cfg      Config
	logger   *slog.Logger
}

// New creates a Retriever.
func New(embedder Embedder, store Searcher, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, logger: logger}
}

// Retrieve returns at most k chunks from courseID ranked by similarity to
// queryText. k <= 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, queryText, courseID string, k int) ([]vectorstore.Chunk, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}

	vector, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	searchCtx := ctx
	if r.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.cfg.SearchTimeout)
		defer cancel()
	}
	chunks, err := r.store.Search(searchCtx, vector, courseID,
		vectorstore.WithTopK(k),
		vectorstore.WithMinScore(r.cfg.MinSimilarity))
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	r.rerankNearTies(queryText, chunks)

	r.logger.Debug("retrieved candidates",
		"course_id", courseID,
		"k", k,
		"results", len(chunks))
	return chunks, nil
}

// rerankNearTies re-orders maximal runs of candidates whose similarity is
// within NearTieEpsilon of the run leader. Within a run, higher lexical
// overlap with the query wins; remaining ties keep similarity order with
// ascending id last for determinism.
func (r *Retriever) rerankNearTies(queryText string, chunks []vectorstore.Chunk) {
	if r.cfg.NearTieEpsilon <= 0 || len(chunks) < 2 {
		return
	}

	queryTerms := termSet(queryText)

	start := 0
	for start < len(chunks) {
		end := start + 1
		for end < len(chunks) && chunks[start].Similarity-chunks[end].Similarity <= r.cfg.NearTieEpsilon {
			end++
		}
		if end-start > 1 {
			run := chunks[start:end]
			overlaps := make(map[uuid.UUID]float64, len(run))
			for _, ch := range run {
				overlaps[ch.ID] = lexicalOverlap(queryTerms, ch.Content)
			}
			sort.SliceStable(run, func(i, j int) bool {
				oi, oj := overlaps[run[i].ID], overlaps[run[j].ID]
				if oi != oj {
					return oi > oj
				}
				if run[i].Similarity != run[j].Similarity {
					return run[i].Similarity > run[j].Similarity
				}
				return run[i].ID.String() < run[j].ID.String()
			})
		}
		start = end
	}
}

// termSet lowercases and splits text into its distinct words.
func termSet(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		terms[strings.Trim(w, `.,;:!?"'()[]{}`)] = struct{}{}
	}
	delete(terms, "")
	return terms
}

// lexicalOverlap is the Jaccard similarity between the query terms and the
// chunk's terms.
func lexicalOverlap(queryTerms map[string]struct{}, content string) float64 {
	contentTerms := termSet(content)
	if len(queryTerms) == 0 || len(contentTerms) == 0 {
		return 0
	}
	shared := 0
	for t := range queryTerms {
		if _, ok := contentTerms[t]; ok {
			shared++
		}
	}
	union := len(queryTerms) + len(contentTerms) - shared
	return float64(shared) / float64(union)
}
