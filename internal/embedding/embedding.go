// Package embedding wraps a Genkit embedder with batching, dimension
// enforcement and bounded retries for transient provider failures.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/rogerjeasy/hslu-rag-backend/internal/retry"
)

var (
	// ErrEmbedding is the base error for all embedding failures.
	ErrEmbedding = errors.New("embedding failed")

	// ErrInvalidInput indicates the provider permanently rejected the input.
	ErrInvalidInput = fmt.Errorf("%w: invalid input", ErrEmbedding)

	// ErrDimensionMismatch indicates the provider returned vectors of an
	// unexpected dimensionality.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrEmbedding)
)

// Client generates embeddings through a configured provider.
// Safe for concurrent use.
type Client struct {
	embedder  ai.Embedder
	dimension int
	retry     retry.Config
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the default retry configuration.
func WithRetry(rc retry.Config) Option {
	return func(c *Client) { c.retry = rc }
}

// WithRateLimit caps outgoing provider calls at rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a Client. dimension is the expected vector dimensionality;
// responses with any other dimension fail with ErrDimensionMismatch.
func New(embedder ai.Embedder, dimension int, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		embedder:  embedder,
		dimension: dimension,
		retry:     retry.DefaultConfig(),
		timeout:   10 * time.Second,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimension returns the configured vector dimensionality.
func (c *Client) Dimension() int {
	return c.dimension
}

// EmbedBatch embeds texts in one provider call. The returned vectors are in
// input order, one per text.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", ErrInvalidInput, i)
		}
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = &ai.Document{Content: []*ai.Part{ai.NewTextPart(t)}}
	}
	req := &ai.EmbedRequest{Input: docs}

	resp, err := retry.Do(ctx, c.retry, c.limiter, c.logger, "embed",
		func(ctx context.Context) (*ai.EmbedResponse, error) {
			return c.attempt(ctx, req)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrEmbedding, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != c.dimension {
			return nil, fmt.Errorf("%w: got %d, want %d",
				ErrDimensionMismatch, len(emb.Embedding), c.dimension)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// attempt runs one provider call bounded by the per-call timeout.
func (c *Client) attempt(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.embedder.Embed(ctx, req)
}
