package retrieval

import (
	"fmt"
	"strings"
)

const (
	// DefaultChunkBudget is the maximum chunk length in characters
	// (≈500 tokens at ~4 chars/token).
	DefaultChunkBudget = 2000

	// DefaultOverlap is the number of trailing characters from the previous
	// chunk repeated at the start of the next chunk within the same slide.
	DefaultOverlap = 200
)

// Chunker cuts slides into retrieval chunks under a character budget,
// preserving context across splits with a fixed overlap window.
type Chunker struct {
	budget  int
	overlap int
}

// NewChunker returns a Chunker with the given budget and overlap. Zero or
// negative values fall back to the defaults; overlap is capped below budget.
func NewChunker(budget, overlap int) *Chunker {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	if overlap >= budget {
		overlap = budget / 4
	}
	return &Chunker{budget: budget, overlap: overlap}
}

// Budget returns the chunk character budget.
func (c *Chunker) Budget() int { return c.budget }

// Chunk cuts the slides into ordered chunks for sessionID. Chunk indexes are
// monotonically increasing across the whole slide sequence. Slides with no
// text produce no chunks.
func (c *Chunker) Chunk(sessionID string, slides []Slide) []Chunk {
	var chunks []Chunk
	index := 0

	for _, slide := range slides {
		block := slideBlock(slide)
		if block == "" {
			continue
		}

		for _, text := range c.split(block) {
			chunks = append(chunks, Chunk{
				SessionID:   sessionID,
				SlideNumber: slide.Number,
				SlideTitle:  slide.Title,
				Text:        text,
				Index:       index,
			})
			index++
		}
	}
	return chunks
}

// slideBlock renders a slide as text: heading line first, then content and
// bullets.
func slideBlock(s Slide) string {
	var sb strings.Builder

	heading := fmt.Sprintf("Slide %d", s.Number)
	if s.Title != "" {
		heading += ": " + s.Title
	}
	sb.WriteString(heading)

	if s.Content != "" {
		sb.WriteString("\n")
		sb.WriteString(s.Content)
	}
	for _, b := range s.Bullets {
		sb.WriteString("\n- ")
		sb.WriteString(b)
	}

	out := strings.TrimSpace(sb.String())
	// A slide reduced to its bare heading carries no reviewable content.
	if out == heading && s.Content == "" && len(s.Bullets) == 0 {
		return ""
	}
	return out
}

// split greedily packs whitespace-separated words up to the budget. Each
// subsequent piece starts with the overlap window of its predecessor.
func (c *Chunker) split(block string) []string {
	if len(block) <= c.budget {
		return []string{block}
	}

	words := strings.Fields(block)
	var pieces []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		piece := cur.String()
		pieces = append(pieces, piece)
		cur.Reset()

		// Seed the next piece with the overlap tail of this one, cut on a
		// word boundary so the window never splits a word.
		tail := piece
		if len(tail) > c.overlap {
			tail = tail[len(tail)-c.overlap:]
			if idx := strings.IndexAny(tail, " \t"); idx >= 0 {
				tail = tail[idx+1:]
			}
		}
		cur.WriteString(tail)
	}

	for _, w := range words {
		need := len(w)
		if cur.Len() > 0 {
			need++ // joining space
		}
		if cur.Len()+need > c.budget && cur.Len() > 0 {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		// A single word that cannot fit beside the overlap window is truncated
		// so no chunk ever exceeds the budget.
		if max := c.budget - c.overlap - 1; len(w) > max {
			w = w[:max]
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}
