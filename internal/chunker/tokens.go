package chunker

import (
	"strings"
	"unicode"
)

// span marks a maximal run of non-space characters in the source text.
type span struct {
	start int
	end   int
}

// wordSpans scans text into word spans with byte offsets. The token count of
// any range of the document is the number of spans it covers; this word-based
// approximation tracks provider tokenizers closely enough for sizing chunks.
func wordSpans(text string) []span {
	var spans []span
	inWord := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				spans = append(spans, span{start: start, end: i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}

// CountTokens returns the approximate token count of text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// sentenceEnd reports whether the word ending at this span closes a sentence.
func sentenceEnd(text string, s span) bool {
	w := strings.TrimRight(text[s.start:s.end], `"')]}`+"`")
	if w == "" {
		return false
	}
	switch w[len(w)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}

// paragraphBreak reports whether a blank line separates two adjacent words.
func paragraphBreak(text string, prev, next span) bool {
	return strings.Count(text[prev.end:next.start], "\n") >= 2
}

// headingText returns the heading title when line is a Markdown ATX heading
// or a SLIDE marker, and ok=false otherwise.
func headingText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if rest, found := strings.CutPrefix(trimmed, "#"); found {
		rest = strings.TrimLeft(rest, "#")
		title := strings.TrimSpace(rest)
		if title != "" {
			return title, true
		}
		return "", false
	}
	if rest, found := strings.CutPrefix(trimmed, "[SLIDE"); found {
		if title := strings.TrimSpace(strings.TrimSuffix(rest, "]")); title != "" {
			return "Slide " + title, true
		}
	}
	return "", false
}
