// Package corpus builds, persists and queries the document index the bot
// answers from.
package corpus

import "errors"

var (
	// ErrIndexBuild is returned when no document could be loaded or no
	// chunk was produced.
	ErrIndexBuild = errors.New("index build failed")
	// ErrRetrieval covers query embedding and similarity search failures.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrNoDocuments means the corpus has no source documents at all.
	ErrNoDocuments = errors.New("no documents in corpus")
)

// Document is one loaded unit of text: a PDF page or a whole text file.
type Document struct {
	Source string
	// Page is 1-based; zero for sources without pages.
	Page int
	Text string
}

// Chunk is a span of document text with its embedding.
type Chunk struct {
	ID      int       `json:"id"`
	Source  string    `json:"source"`
	Page    int       `json:"page,omitempty"`
	Offset  int       `json:"offset"`
	Content string    `json:"content"`
	Vector  []float32 `json:"vector"`
}
