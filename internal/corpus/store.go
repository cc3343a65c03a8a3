package corpus

import (
	"context"
	"sort"
	"time"
)

// Manifest describes a persisted index.
type Manifest struct {
	// Fingerprint is a digest of the source files; empty when the backend
	// cannot record it.
	Fingerprint string    `json:"fingerprint"`
	Sources     []string  `json:"sources"`
	Chunks      int       `json:"chunks"`
	Dimensions  int       `json:"dimensions"`
	BuiltAt     time.Time `json:"built_at"`
}

// Store persists chunks and serves similarity search over them.
type Store interface {
	// ReadManifest reports ok=false when no index has been written yet.
	ReadManifest(ctx context.Context) (m Manifest, ok bool, err error)
	// Write replaces the whole index.
	Write(ctx context.Context, m Manifest, chunks []Chunk) error
	Open(ctx context.Context) (Searcher, error)
	Close() error
}

// Searcher returns the n chunks nearest to vec, closest first, with their
// vectors filled in.
type Searcher interface {
	Nearest(ctx context.Context, vec []float32, n int) ([]Chunk, error)
	Len() int
}

type memorySearcher struct {
	chunks []Chunk
}

func newMemorySearcher(chunks []Chunk) *memorySearcher {
	return &memorySearcher{chunks: chunks}
}

func (s *memorySearcher) Len() int { return len(s.chunks) }

func (s *memorySearcher) Nearest(_ context.Context, vec []float32, n int) ([]Chunk, error) {
	type scored struct {
		idx   int
		score float64
	}
	all := make([]scored, len(s.chunks))
	for i, c := range s.chunks {
		all[i] = scored{idx: i, score: cosine(vec, c.Vector)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	n = min(n, len(all))
	out := make([]Chunk, n)
	for i := 0; i < n; i++ {
		out[i] = s.chunks[all[i].idx]
	}
	return out, nil
}
