// Package segment splits document text into bounded, boundary-aware pieces
// sized for individual speech synthesis calls.
package segment

import (
	"strings"
	"unicode/utf8"
)

// Segment is one synthesis unit. Offsets are byte positions into the original
// untrimmed text, half-open, contiguous, and together cover the whole body.
type Segment struct {
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
}

// boundaryLookback is how far behind a proposed cut point the splitter searches
// for a natural boundary before falling back to a hard break.
const boundaryLookback = 200

// Split divides text into segments of at most maxSize bytes. Cut points are
// chosen, in priority order, at a sentence terminator followed by whitespace,
// a blank-line paragraph break, or any whitespace, whichever occurs closest to
// the size limit. Pathological input with no boundary in range is cut exactly
// at maxSize. The result is deterministic for a given (text, maxSize) pair.
func Split(text string, maxSize int) []Segment {
	if len(text) <= maxSize {
		return []Segment{{
			Index:       0,
			Text:        strings.TrimSpace(text),
			StartOffset: 0,
			EndOffset:   len(text),
		}}
	}

	var segments []Segment
	cur := 0
	for cur < len(text) {
		end := cur + maxSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = cutPoint(text, cur, end)
		}
		segments = append(segments, Segment{
			Index:       len(segments),
			Text:        strings.TrimSpace(text[cur:end]),
			StartOffset: cur,
			EndOffset:   end,
		})
		cur = end
	}
	return segments
}

func cutPoint(text string, start, limit int) int {
	windowStart := limit - boundaryLookback
	if windowStart < start {
		windowStart = start
	}

	for i := limit - 2; i >= windowStart; i-- {
		if isTerminator(text[i]) && isSpace(text[i+1]) {
			return i + 2
		}
	}

	if idx := strings.LastIndex(text[windowStart:limit], "\n\n"); idx != -1 {
		return windowStart + idx + 2
	}

	for i := limit - 1; i >= windowStart; i-- {
		if isSpace(text[i]) {
			return i + 1
		}
	}

	// Hard break. Back up to a rune boundary so multi-byte characters are
	// never torn across segments.
	i := limit
	for i > start && !utf8.RuneStart(text[i]) {
		i--
	}
	if i == start {
		return limit
	}
	return i
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
