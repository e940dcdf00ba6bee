package vectorstore

import (
	"github.com/google/uuid"
)

// Record is a chunk to be stored, with its precomputed embedding.
type Record struct {
	CourseID   string
	DocumentID string
	Position   int
	Content    string
	Metadata   map[string]string
	Embedding  []float32
}

// Chunk is a stored chunk returned from a similarity search.
type Chunk struct {
	ID         uuid.UUID
	CourseID   string
	DocumentID string
	Position   int
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	topK     int
	minScore float64
	filter   map[string]string
}

// WithTopK sets the maximum number of results to return.
// Default is 5 if not specified.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithMinScore drops results whose cosine similarity is below score.
// Default is 0 (no floor).
func WithMinScore(score float64) SearchOption {
	return func(c *searchConfig) {
		c.minScore = score
	}
}

// WithFilter adds a metadata filter to restrict search results.
// Multiple calls add additional filters (AND logic).
// Example: WithFilter("section", "B-Trees")
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// buildSearchConfig applies search options and returns the final configuration.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK: 5, // Default
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
