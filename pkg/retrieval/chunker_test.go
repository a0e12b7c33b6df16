package retrieval

import (
	"strings"
	"testing"
)

func TestChunk_SingleChunkPerSlide(t *testing.T) {
	c := NewChunker(2000, 200)
	slides := []Slide{
		{Number: 1, Title: "Overview", Content: "short text", Bullets: []string{"a", "b"}},
		{Number: 2, Title: "Design", Content: "also short"},
	}

	chunks := c.Chunk("sess-1", slides)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Errorf("indexes = %d, %d; want 0, 1", chunks[0].Index, chunks[1].Index)
	}
	if !strings.HasPrefix(chunks[0].Text, "Slide 1: Overview") {
		t.Errorf("chunk 0 should begin with slide heading, got %q", chunks[0].Text[:30])
	}
	if !strings.Contains(chunks[0].Text, "- a") {
		t.Errorf("chunk 0 should contain bullets, got %q", chunks[0].Text)
	}
	if chunks[1].SlideNumber != 2 || chunks[1].SlideTitle != "Design" {
		t.Errorf("chunk 1 slide ref = %d %q", chunks[1].SlideNumber, chunks[1].SlideTitle)
	}
}

func TestChunk_SplitsWithOverlap(t *testing.T) {
	budget, overlap := 300, 60
	c := NewChunker(budget, overlap)

	long := strings.Repeat("retrieval chunks preserve context across splits ", 40)
	slides := []Slide{{Number: 1, Title: "Long", Content: long}}

	chunks := c.Chunk("sess-1", slides)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if len(ch.Text) > budget {
			t.Errorf("chunk %d length %d exceeds budget %d", i, len(ch.Text), budget)
		}
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
	}

	// Each follow-up chunk starts with a tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		head := chunks[i].Text
		if len(head) > 40 {
			head = head[:40]
		}
		if !strings.Contains(prev, strings.Fields(head)[0]) {
			t.Errorf("chunk %d does not overlap its predecessor", i)
		}
	}
}

func TestChunk_EmptySlidesSkipped(t *testing.T) {
	c := NewChunker(2000, 200)
	chunks := c.Chunk("sess-1", []Slide{{Number: 1}, {Number: 2, Content: "real"}})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].SlideNumber != 2 {
		t.Errorf("chunk slide = %d, want 2", chunks[0].SlideNumber)
	}
	if chunks[0].Index != 0 {
		t.Errorf("chunk index = %d, want 0", chunks[0].Index)
	}
}

func TestChunk_IndexesMonotoneAcrossSlides(t *testing.T) {
	c := NewChunker(120, 20)
	long := strings.Repeat("words flow onward ", 30)
	slides := []Slide{
		{Number: 1, Title: "A", Content: long},
		{Number: 2, Title: "B", Content: long},
	}

	chunks := c.Chunk("sess-1", slides)
	for i, ch := range chunks {
		if ch.Index != i {
			t.Fatalf("chunk %d has index %d", i, ch.Index)
		}
	}
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(0, 0)
	if c.Budget() != DefaultChunkBudget {
		t.Errorf("budget = %d, want default", c.Budget())
	}
	c = NewChunker(100, 500)
	if c.overlap >= c.budget {
		t.Errorf("overlap %d should be capped below budget %d", c.overlap, c.budget)
	}
}
