// Package chunker splits raw document text into ordered, bounded-size
// pieces for embedding.
//
// Splitting is deterministic: the same text and policy always produce the
// same pieces, which is what makes re-ingestion idempotent upstream.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target piece size in runes.
	DefaultChunkSize = 1600

	// DefaultOverlap is how many runes consecutive pieces share.
	DefaultOverlap = 200

	// tokenRunesRatio is the rough runes-per-token estimate used for
	// token accounting. Four characters per token is the usual English
	// heuristic.
	tokenRunesRatio = 4
)

// Piece is one chunk of a document, ordered by Position.
type Piece struct {
	Content    string
	Position   int
	TokenCount int
}

// Splitter carries the chunking policy.
type Splitter struct {
	// ChunkSize is the maximum piece length in runes.
	ChunkSize int

	// Overlap is the number of trailing runes repeated at the start of
	// the next piece. Must be smaller than ChunkSize.
	Overlap int
}

// NewSplitter returns a Splitter, substituting defaults for out-of-range
// values so a zero-value policy still behaves.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split breaks text into ordered pieces. Empty or whitespace-only input
// yields nil (callers skip embedding). Input shorter than one chunk yields
// exactly one piece at position 0.
//
// Pieces are cut at whitespace boundaries when one exists in the back half
// of the window, so words are not bisected mid-rune or mid-token more than
// necessary.
func (s *Splitter) Split(text string) []Piece {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= s.ChunkSize {
		return []Piece{{
			Content:    trimmed,
			Position:   0,
			TokenCount: EstimateTokens(trimmed),
		}}
	}

	var pieces []Piece
	step := s.ChunkSize - s.Overlap
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		last := end >= len(runes)
		if last {
			end = len(runes)
		} else {
			end = breakBefore(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			pieces = append(pieces, Piece{
				Content:    content,
				Position:   len(pieces),
				TokenCount: EstimateTokens(content),
			})
		}
		if last {
			break
		}
		// Keep the stride anchored to the actual cut, not the nominal
		// window, so overlap stays consistent after boundary adjustment.
		step = (end - start) - s.Overlap
		if step < 1 {
			step = 1
		}
	}

	return pieces
}

// breakBefore finds a whitespace boundary at or before end, as long as one
// exists past the midpoint of the window. Falls back to a hard cut.
func breakBefore(runes []rune, start, end int) int {
	limit := start + (end-start)/2
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// EstimateTokens returns a cheap token count estimate for budget checks.
// It is intentionally conservative rather than model-accurate.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := n / tokenRunesRatio
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
