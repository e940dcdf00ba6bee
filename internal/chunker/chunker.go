// Package chunker splits extracted course material into overlapping,
// token-bounded segments ready for embedding.
//
// Splitting prefers semantic boundaries: a chunk ends at the last paragraph
// break inside the window when one exists, then the last sentence end, and
// only falls back to a hard cut for long unbroken runs. Consecutive chunks
// share a configurable number of overlap tokens so retrieval does not lose
// content that straddles a boundary.
package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrChunking is the base error for all chunking failures.
	ErrChunking = errors.New("chunking failed")

	// ErrEmptyDocument indicates the input contained no content words.
	ErrEmptyDocument = fmt.Errorf("%w: empty document", ErrChunking)

	// ErrDocumentTooLarge indicates the input exceeds the configured size cap.
	ErrDocumentTooLarge = fmt.Errorf("%w: document too large", ErrChunking)
)

// Chunk is one segment of a source document. Content is an exact substring
// of the input: concatenating all chunks in order with each chunk's overlap
// prefix removed reconstructs the document.
type Chunk struct {
	// Position is the zero-based ordinal of the chunk within its document.
	Position int

	// Content is the chunk text.
	Content string

	// TokenCount is the approximate token count of Content.
	TokenCount int

	// Section is the most recent heading above the chunk start, or "".
	Section string
}

// Config holds chunking parameters.
type Config struct {
	// MaxTokens caps the token count of any produced chunk.
	MaxTokens int

	// OverlapTokens is the number of trailing tokens repeated at the start
	// of the next chunk. Must be smaller than MaxTokens.
	OverlapTokens int

	// MaxDocumentBytes caps the input size.
	MaxDocumentBytes int
}

// Chunker splits documents. Safe for concurrent use.
type Chunker struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Chunker. Returns an error on inconsistent parameters.
func New(cfg Config, logger *slog.Logger) (*Chunker, error) {
	if cfg.MaxTokens < 1 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", ErrChunking, cfg.MaxTokens)
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, max tokens)", ErrChunking, cfg.OverlapTokens)
	}
	if cfg.MaxDocumentBytes < 1 {
		return nil, fmt.Errorf("%w: max document bytes must be positive, got %d", ErrChunking, cfg.MaxDocumentBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{cfg: cfg, logger: logger}, nil
}

// Split produces the ordered chunk sequence for text.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if len(text) > c.cfg.MaxDocumentBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d",
			ErrDocumentTooLarge, len(text), c.cfg.MaxDocumentBytes)
	}

	words := wordSpans(text)
	if len(words) == 0 {
		return nil, ErrEmptyDocument
	}

	sections := sectionIndex(text)

	var chunks []Chunk
	startWord := 0
	startByte := 0
	for startWord < len(words) {
		endWord := c.windowEnd(text, words, startWord)

		endByte := words[endWord-1].end
		if endWord == len(words) {
			// Last chunk absorbs trailing whitespace so every byte of the
			// document is covered.
			endByte = len(text)
		}

		content := text[startByte:endByte]
		chunks = append(chunks, Chunk{
			Position:   len(chunks),
			Content:    content,
			TokenCount: endWord - startWord,
			Section:    sections.at(startByte),
		})

		if endWord == len(words) {
			break
		}

		nextWord := endWord - c.cfg.OverlapTokens
		if nextWord <= startWord {
			nextWord = startWord + 1
		}
		startWord = nextWord
		if c.cfg.OverlapTokens > 0 {
			startByte = words[startWord].start
		} else {
			startByte = endByte
		}
	}

	c.logger.Debug("split document",
		"bytes", len(text), "words", len(words), "chunks", len(chunks))
	return chunks, nil
}

// windowEnd picks the exclusive end word of the chunk starting at startWord.
// Paragraph breaks win over sentence ends; both must land past the midpoint
// of the window so boundary-seeking cannot degenerate into tiny chunks.
func (c *Chunker) windowEnd(text string, words []span, startWord int) int {
	hardEnd := startWord + c.cfg.MaxTokens
	if hardEnd >= len(words) {
		return len(words)
	}

	minEnd := startWord + c.cfg.MaxTokens/2
	bestSentence := -1
	bestParagraph := -1
	for e := hardEnd; e > minEnd; e-- {
		if bestParagraph < 0 && paragraphBreak(text, words[e-1], words[e]) {
			bestParagraph = e
			break
		}
		if bestSentence < 0 && sentenceEnd(text, words[e-1]) {
			bestSentence = e
		}
	}
	if bestParagraph > 0 {
		return bestParagraph
	}
	if bestSentence > 0 {
		return bestSentence
	}
	return hardEnd
}

// sectionMarks maps byte offsets to the heading in effect at that offset.
type sectionMarks struct {
	offsets []int
	titles  []string
}

func (s sectionMarks) at(offset int) string {
	title := ""
	for i, o := range s.offsets {
		if o > offset {
			break
		}
		title = s.titles[i]
	}
	return title
}

// sectionIndex scans the document for Markdown headings and slide markers so
// chunks can carry the section they fall under.
func sectionIndex(text string) sectionMarks {
	var marks sectionMarks
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if title, ok := headingText(line); ok {
			marks.offsets = append(marks.offsets, offset)
			marks.titles = append(marks.titles, title)
		}
		offset += len(line)
	}
	return marks
}
