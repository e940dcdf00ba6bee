package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newTestChunker(t *testing.T, maxTokens, overlap int) *Chunker {
	t.Helper()
	c, err := New(Config{
		MaxTokens:        maxTokens,
		OverlapTokens:    overlap,
		MaxDocumentBytes: 1 << 20,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero max tokens", Config{MaxTokens: 0, OverlapTokens: 0, MaxDocumentBytes: 100}},
		{"overlap equals max", Config{MaxTokens: 10, OverlapTokens: 10, MaxDocumentBytes: 100}},
		{"negative overlap", Config{MaxTokens: 10, OverlapTokens: -1, MaxDocumentBytes: 100}},
		{"zero document cap", Config{MaxTokens: 10, OverlapTokens: 2, MaxDocumentBytes: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, nil); !errors.Is(err, ErrChunking) {
				t.Fatalf("New = %v, want ErrChunking", err)
			}
		})
	}
}

func TestSplitEmptyDocument(t *testing.T) {
	c := newTestChunker(t, 10, 2)
	for _, text := range []string{"", "   ", "\n\n\t"} {
		if _, err := c.Split(text); !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("Split(%q) = %v, want ErrEmptyDocument", text, err)
		}
	}
}

func TestSplitDocumentTooLarge(t *testing.T) {
	c, err := New(Config{MaxTokens: 10, OverlapTokens: 2, MaxDocumentBytes: 16}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Split(strings.Repeat("word ", 10))
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("Split = %v, want ErrDocumentTooLarge", err)
	}
	if !errors.Is(err, ErrChunking) {
		t.Fatal("ErrDocumentTooLarge should wrap ErrChunking")
	}
}

func TestSplitSingleChunk(t *testing.T) {
	c := newTestChunker(t, 100, 10)
	text := "A B-tree is a self-balancing search tree."
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != text {
		t.Errorf("content = %q, want full text", chunks[0].Content)
	}
	if chunks[0].Position != 0 {
		t.Errorf("position = %d, want 0", chunks[0].Position)
	}
}

func TestSplitTokenBound(t *testing.T) {
	c := newTestChunker(t, 20, 5)
	var sb strings.Builder
	for i := range 500 {
		fmt.Fprintf(&sb, "word%d ", i)
	}
	chunks, err := c.Split(sb.String())
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount > 20 {
			t.Errorf("chunk %d has %d tokens, exceeds max 20", ch.Position, ch.TokenCount)
		}
		if got := CountTokens(ch.Content); got != ch.TokenCount {
			t.Errorf("chunk %d TokenCount=%d but CountTokens=%d", ch.Position, ch.TokenCount, got)
		}
	}
}

// Removing each chunk's overlap prefix and concatenating must reproduce the
// input byte for byte.
func TestSplitCoverage(t *testing.T) {
	// Numbered words keep the text aperiodic so the overlap detected by
	// reconstruct is exactly the overlap the chunker produced.
	prose := func(n int, sep string) string {
		var sb strings.Builder
		for i := range n {
			fmt.Fprintf(&sb, "sentence%d covers topic%d in depth%d.%s", i, i, i, sep)
		}
		return sb.String()
	}
	tests := []struct {
		name    string
		overlap int
		text    string
	}{
		{"prose with overlap", 5, prose(40, " ")},
		{"prose no overlap", 0, prose(30, " ")},
		{"paragraphs", 4, prose(25, "\n\n")},
		{"trailing whitespace", 3, prose(20, " ") + "\n\n  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChunker(t, 16, tt.overlap)
			chunks, err := c.Split(tt.text)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if got := reconstruct(chunks); got != tt.text {
				t.Errorf("reconstruction mismatch:\n got %d bytes\nwant %d bytes", len(got), len(tt.text))
			}
		})
	}
}

// reconstruct merges chunks by dropping each chunk's longest prefix that is
// also a suffix of the text accumulated so far.
func reconstruct(chunks []Chunk) string {
	var sb strings.Builder
	for _, ch := range chunks {
		acc := sb.String()
		overlap := 0
		maxCheck := min(len(acc), len(ch.Content))
		for n := maxCheck; n > 0; n-- {
			if acc[len(acc)-n:] == ch.Content[:n] {
				overlap = n
				break
			}
		}
		sb.WriteString(ch.Content[overlap:])
	}
	return sb.String()
}

func TestSplitOverlapBound(t *testing.T) {
	const overlap = 4
	c := newTestChunker(t, 12, overlap)
	var sb strings.Builder
	for i := range 200 {
		fmt.Fprintf(&sb, "token%d ", i)
	}
	chunks, err := c.Split(sb.String())
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Content)
		cur := strings.Fields(chunks[i].Content)
		shared := 0
		for n := min(len(prev), len(cur)); n > 0; n-- {
			if equalFields(prev[len(prev)-n:], cur[:n]) {
				shared = n
				break
			}
		}
		if shared > overlap {
			t.Errorf("chunks %d/%d share %d tokens, overlap cap is %d", i-1, i, shared, overlap)
		}
	}
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	para1 := "Databases store structured data efficiently using many layered components today."
	para2 := "Transactions group operations into atomic units with strong isolation guarantees."
	c := newTestChunker(t, 14, 0)
	chunks, err := c.Split(para1 + "\n\n" + para2)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "today.") || strings.Contains(chunks[0].Content, "Transactions") {
		t.Errorf("first chunk did not end at paragraph break: %q", chunks[0].Content)
	}
}

func TestSplitSections(t *testing.T) {
	text := "# B-Trees\n\n" +
		strings.Repeat("Balanced trees keep lookups logarithmic in practice. ", 8) +
		"\n\n## Insertion\n\n" +
		strings.Repeat("Splitting a full node pushes the median key upward. ", 8)
	c := newTestChunker(t, 30, 5)
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if chunks[0].Section != "B-Trees" {
		t.Errorf("first section = %q, want %q", chunks[0].Section, "B-Trees")
	}
	last := chunks[len(chunks)-1]
	if last.Section != "Insertion" {
		t.Errorf("last section = %q, want %q", last.Section, "Insertion")
	}
}

func TestSplitSlideMarkers(t *testing.T) {
	text := "[SLIDE 3]\n" + strings.Repeat("Normalization reduces redundancy in relations. ", 6)
	c := newTestChunker(t, 50, 5)
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if chunks[0].Section != "Slide 3" {
		t.Errorf("section = %q, want %q", chunks[0].Section, "Slide 3")
	}
}
