// Package assembler turns ranked candidate chunks into a token-bounded
// prompt context with citations.
//
// Chunks are taken greedily in ranked order until the next chunk would blow
// the token budget. Near-duplicate chunks are dropped first so overlapping
// windows of the same passage do not waste budget. Output is deterministic
// for identical input and configuration.
package assembler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rogerjeasy/hslu-rag-backend/internal/chunker"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

// Citation points from the assembled context back to a stored chunk.
type Citation struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Position   int       `json:"position"`
	Section    string    `json:"section,omitempty"`
}

// Context is the assembled prompt material.
type Context struct {
	// Text is the numbered source blocks joined for the prompt.
	Text string

	// Citations lists included chunks in inclusion order; the Nth citation
	// corresponds to source block [N+1] in Text.
	Citations []Citation

	// TokenCount is the approximate token count of Text.
	TokenCount int
}

// Config holds assembly tunables.
type Config struct {
	// MaxTokens is the default context budget when the caller passes 0.
	MaxTokens int

	// DedupThreshold drops a candidate whose word-set Jaccard similarity
	// with an already-included chunk is at or above this value. Exact
	// substrings are always dropped. Zero disables similarity dedup.
	DedupThreshold float64
}

// Assembler builds prompt contexts. Safe for concurrent use.
type Assembler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Assembler.
func New(cfg Config, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 1800
	}
	return &Assembler{cfg: cfg, logger: logger}
}

// Assemble selects chunks from ranked (best first) into a context bounded by
// maxTokens. maxTokens <= 0 uses the configured default.
func (a *Assembler) Assemble(ranked []vectorstore.Chunk, maxTokens int) Context {
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	var (
		blocks    []string
		citations []Citation
		included  []string
		total     int
	)

	for _, ch := range ranked {
		if a.isDuplicate(ch.Content, included) {
			continue
		}

		block := fmt.Sprintf("[%d] %s", len(blocks)+1, strings.TrimSpace(ch.Content))
		tokens := chunker.CountTokens(block)
		if len(blocks) > 0 {
			// Account for the blank-line separator in the budget bookkeeping
			// even though CountTokens ignores whitespace.
			tokens = chunker.CountTokens("\n\n" + block)
		}
		if total+tokens > maxTokens {
			break
		}

		blocks = append(blocks, block)
		included = append(included, ch.Content)
		citations = append(citations, Citation{
			ChunkID:    ch.ID,
			DocumentID: ch.DocumentID,
			Position:   ch.Position,
			Section:    ch.Metadata["section"],
		})
		total += tokens
	}

	text := strings.Join(blocks, "\n\n")
	a.logger.Debug("assembled context",
		"candidates", len(ranked),
		"included", len(citations),
		"tokens", total,
		"budget", maxTokens)
	return Context{Text: text, Citations: citations, TokenCount: total}
}

// isDuplicate reports whether content substantially repeats an already
// included chunk.
func (a *Assembler) isDuplicate(content string, included []string) bool {
	trimmed := strings.TrimSpace(content)
	for _, prev := range included {
		prevTrimmed := strings.TrimSpace(prev)
		if strings.Contains(prevTrimmed, trimmed) || strings.Contains(trimmed, prevTrimmed) {
			return true
		}
		if a.cfg.DedupThreshold > 0 && jaccard(trimmed, prevTrimmed) >= a.cfg.DedupThreshold {
			return true
		}
	}
	return false
}

// jaccard computes word-set Jaccard similarity between two texts.
func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(setA)+len(setB)-shared)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}
