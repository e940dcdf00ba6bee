package config

import (
	"fmt"
	"strings"
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks all configuration values and fails fast on the first
// invalid setting so misconfiguration surfaces at startup, not mid-query.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected %q, %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama, ProviderOpenAI)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: %d (expected 1-4096)", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.ChunkMaxTokens < 1 {
		return fmt.Errorf("%w: chunk_max_tokens must be positive, got %d",
			ErrInvalidChunking, c.ChunkMaxTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens %d must be in [0, chunk_max_tokens)",
			ErrInvalidChunking, c.ChunkOverlapTokens)
	}
	if c.MaxDocumentBytes < 1 {
		return fmt.Errorf("%w: max_document_bytes must be positive, got %d",
			ErrInvalidChunking, c.MaxDocumentBytes)
	}

	if c.RetrieveTopK < 1 {
		return fmt.Errorf("%w: retrieve_top_k must be positive, got %d",
			ErrInvalidRetrieval, c.RetrieveTopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity %g must be in [0, 1]",
			ErrInvalidRetrieval, c.MinSimilarity)
	}
	if c.NearTieEpsilon < 0 || c.NearTieEpsilon > 1 {
		return fmt.Errorf("%w: near_tie_epsilon %g must be in [0, 1]",
			ErrInvalidRetrieval, c.NearTieEpsilon)
	}
	if c.ContextMaxTokens < 1 {
		return fmt.Errorf("%w: context_max_tokens must be positive, got %d",
			ErrInvalidRetrieval, c.ContextMaxTokens)
	}
	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("%w: dedup_threshold %g must be in [0, 1]",
			ErrInvalidRetrieval, c.DedupThreshold)
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("%w: history_turns must be non-negative, got %d",
			ErrInvalidRetrieval, c.HistoryTurns)
	}

	for name, d := range map[string]int64{
		"embed_timeout":    int64(c.EmbedTimeout),
		"search_timeout":   int64(c.SearchTimeout),
		"generate_timeout": int64(c.GenerateTimeout),
		"query_budget":     int64(c.QueryBudget),
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidTimeout, name)
		}
	}
	if c.QueryBudget < c.GenerateTimeout {
		return fmt.Errorf("%w: query_budget %s is shorter than generate_timeout %s",
			ErrInvalidTimeout, c.QueryBudget, c.GenerateTimeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry_attempts must be non-negative, got %d",
			ErrInvalidTimeout, c.RetryAttempts)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (expected 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}
