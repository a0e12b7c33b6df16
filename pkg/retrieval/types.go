// Package retrieval implements artifact ingestion and semantic search for
// review sessions: parsing presentation text into slides, chunking slides
// under a token budget with overlap, embedding chunks, and querying them by
// cosine similarity.
//
// The package separates the algorithmic layer (Parser, Chunker, Index) from
// durable storage (the Store interface, implemented by the postgres
// subpackage and an in-memory mock).
package retrieval

import "errors"

// Ingest failure classes. Index.Ingest wraps its error with exactly one of
// these so callers can route on the failure stage.
var (
	// ErrParse indicates the artifact text produced no usable slides.
	ErrParse = errors.New("retrieval: parse failure")

	// ErrEmbed indicates no chunk could be embedded.
	ErrEmbed = errors.New("retrieval: embed failure")

	// ErrStore indicates the chunk store rejected the write.
	ErrStore = errors.New("retrieval: store failure")
)

// Slide is one parsed unit of the uploaded presentation.
type Slide struct {
	// Number is the 1-based slide position.
	Number int

	// Title is the slide heading. May be empty.
	Title string

	// Content is the slide's non-bullet prose.
	Content string

	// Bullets holds the slide's bullet lines, in order, without markers.
	Bullets []string
}

// Chunk is a bounded-length slice of artifact text with its embedding vector.
// Chunks are the unit of retrieval.
type Chunk struct {
	// SessionID scopes the chunk to one review session.
	SessionID string

	// SlideNumber is the slide this chunk was cut from.
	SlideNumber int

	// SlideTitle is the originating slide's title. May be empty.
	SlideTitle string

	// Text is the chunk content. Never exceeds the chunker's budget.
	Text string

	// Index is the chunk's position in the session-wide ingestion order.
	// Monotonically increasing across all slides of a session.
	Index int

	// Embedding is the chunk's vector. Nil until embedded.
	Embedding []float32
}

// SearchResult is one retrieval hit.
type SearchResult struct {
	// SlideNumber identifies the source slide.
	SlideNumber int

	// SlideTitle is the source slide's title. May be empty.
	SlideTitle string

	// Text is the chunk content.
	Text string

	// Similarity is the cosine similarity to the query, clamped to [0, 1].
	Similarity float64
}
