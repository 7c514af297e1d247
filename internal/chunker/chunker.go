// Package chunker splits document text into ordered, bounded chunks with
// character-offset provenance for downstream citation highlighting.
package chunker

import (
	"errors"
	"fmt"
	"unicode"
)

var (
	// ErrConfig indicates a chunking configuration that cannot make
	// progress or names an unknown boundary mode.
	ErrConfig = errors.New("invalid chunker configuration")
)

// Boundary modes. Paragraph and sentence modes snap chunk ends to natural
// boundaries inside the window; char mode splits at exact window edges.
const (
	BoundaryParagraph = "paragraph"
	BoundarySentence  = "sentence"
	BoundaryChar      = "char"
)

// Config controls window size, overlap, and boundary snapping.
type Config struct {
	MaxChars     int
	OverlapChars int
	Boundary     string
}

// Validate checks that the configuration can make progress.
func (c Config) Validate() error {
	if c.MaxChars < 1 {
		return fmt.Errorf("%w: max chars %d must be positive", ErrConfig, c.MaxChars)
	}
	// An overlap as large as the window would stall the cursor.
	if c.OverlapChars < 0 || c.OverlapChars >= c.MaxChars {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrConfig, c.OverlapChars, c.MaxChars)
	}
	switch c.Boundary {
	case BoundaryParagraph, BoundarySentence, BoundaryChar:
	default:
		return fmt.Errorf("%w: unknown boundary mode %q", ErrConfig, c.Boundary)
	}
	return nil
}

// Chunk is one bounded span of the source text. Start and End are character
// positions (not bytes) into the original document; Index is 0-based and
// strictly increasing with no gaps.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Split chunks text according to cfg. The result is deterministic: identical
// text and config always yield identical boundaries. Empty input yields no
// chunks.
func Split(text string, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := chunkEnd(runes, start, cfg)
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		next := end - cfg.OverlapChars
		if next <= start {
			next = start + 1
		}
		// Boundary modes leave inter-chunk whitespace behind rather than
		// starting the next chunk on it. Skipping never reaches back into
		// the overlap region.
		if cfg.Boundary != BoundaryChar && next >= end {
			for next < len(runes) && unicode.IsSpace(runes[next]) {
				next++
			}
		}
		start = next
	}
	return chunks, nil
}

// chunkEnd returns the exclusive end of the chunk starting at start.
func chunkEnd(runes []rune, start int, cfg Config) int {
	// A remainder shorter than the window is taken whole.
	if len(runes)-start < cfg.MaxChars {
		return len(runes)
	}

	limit := start + cfg.MaxChars
	if cfg.Boundary == BoundaryChar {
		return limit
	}

	// Back off to the last boundary terminator whose trailing marker falls
	// strictly inside the window, so the cut never lands mid-sentence.
	for i := limit - 2; i >= start; i-- {
		if isBoundary(runes, i, cfg.Boundary) {
			return i + 1
		}
	}

	// No boundary inside the window: hard split.
	return limit
}

// isBoundary reports whether runes[i] terminates a unit for the given mode,
// judged by the character that follows it.
func isBoundary(runes []rune, i int, mode string) bool {
	switch mode {
	case BoundarySentence:
		switch runes[i] {
		case '.', '!', '?':
			return unicode.IsSpace(runes[i+1])
		}
	case BoundaryParagraph:
		return runes[i] == '\n' && runes[i+1] == '\n'
	}
	return false
}
