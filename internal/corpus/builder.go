package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/uDoug/ChatBot/internal/llm"
)

// Retrieval parameters used when none are configured.
const (
	DefaultK      = 4
	DefaultFetchK = 20
	DefaultLambda = 0.5
)

// Builder produces an Index from source files, reusing a persisted one when
// the store already holds it.
type Builder struct {
	store    Store
	embedder llm.Embedder
	splitter *Splitter
	logger   *slog.Logger

	verify bool
	k      int
	fetchK int
	lambda float64
	load   func(path string) ([]Document, error)
}

type BuilderOption func(*Builder)

func WithSplitter(s *Splitter) BuilderOption { return func(b *Builder) { b.splitter = s } }

// WithFingerprintCheck rebuilds a persisted index whose source digest no
// longer matches the current files.
func WithFingerprintCheck(enabled bool) BuilderOption {
	return func(b *Builder) { b.verify = enabled }
}

func WithRetrieval(k, fetchK int, lambda float64) BuilderOption {
	return func(b *Builder) {
		if k > 0 {
			b.k = k
		}
		if fetchK > 0 {
			b.fetchK = fetchK
		}
		if lambda >= 0 && lambda <= 1 {
			b.lambda = lambda
		}
	}
}

func WithLogger(l *slog.Logger) BuilderOption { return func(b *Builder) { b.logger = l } }

func NewBuilder(store Store, embedder llm.Embedder, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:    store,
		embedder: embedder,
		splitter: NewSplitter(1000, 180),
		logger:   slog.Default(),
		k:        DefaultK,
		fetchK:   DefaultFetchK,
		lambda:   DefaultLambda,
		load:     LoadFile,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fetchK < b.k {
		b.fetchK = b.k
	}
	return b
}

// BuildOrLoad returns the persisted index when one exists, without checking
// that it covers sources unless the fingerprint check is on. Otherwise it
// builds and persists a new index. A persisted index that fails to open is
// rebuilt.
func (b *Builder) BuildOrLoad(ctx context.Context, sources []string) (*Index, error) {
	m, ok, err := b.store.ReadManifest(ctx)
	if err != nil {
		b.logger.Warn("read index manifest failed, rebuilding", "error", err)
		ok = false
	}
	if ok && b.verify && m.Fingerprint != "" {
		fp, err := Fingerprint(sources)
		if err != nil {
			return nil, fmt.Errorf("%w: fingerprint sources: %w", ErrIndexBuild, err)
		}
		if fp != m.Fingerprint {
			b.logger.Info("index fingerprint changed, rebuilding", "chunks", m.Chunks)
			ok = false
		}
	}
	if ok {
		searcher, err := b.store.Open(ctx)
		if err == nil {
			b.logger.Info("loaded persisted index", "chunks", searcher.Len(), "built_at", m.BuiltAt)
			return b.index(searcher), nil
		}
		b.logger.Warn("open persisted index failed, rebuilding", "error", err)
	}
	return b.Build(ctx, sources)
}

// Build always creates a new index from sources and replaces the persisted one.
func (b *Builder) Build(ctx context.Context, sources []string) (*Index, error) {
	sources = sortedCopy(sources)

	var docs []Document
	for _, path := range sources {
		d, err := b.load(path)
		if err != nil {
			b.logger.Warn("skipping unreadable document", "source", path, "error", err)
			continue
		}
		docs = append(docs, d...)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: none of %d documents could be loaded", ErrIndexBuild, len(sources))
	}

	var chunks []Chunk
	for _, d := range docs {
		for _, sp := range b.splitter.SplitSpans(d.Text) {
			chunks = append(chunks, Chunk{
				ID:      len(chunks),
				Source:  d.Source,
				Page:    d.Page,
				Offset:  sp.Offset,
				Content: sp.Text,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: documents produced no chunks", ErrIndexBuild)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed chunks: %w", ErrIndexBuild, err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrIndexBuild, len(vecs), len(chunks))
	}
	for i := range chunks {
		chunks[i].Vector = vecs[i]
	}

	fp, err := Fingerprint(sources)
	if err != nil {
		b.logger.Warn("fingerprint sources failed", "error", err)
	}
	m := Manifest{
		Fingerprint: fp,
		Sources:     baseNames(sources),
		Chunks:      len(chunks),
		Dimensions:  len(vecs[0]),
		BuiltAt:     time.Now().UTC(),
	}
	if err := b.store.Write(ctx, m, chunks); err != nil {
		return nil, fmt.Errorf("%w: persist index: %w", ErrIndexBuild, err)
	}
	b.logger.Info("built index", "documents", len(docs), "chunks", len(chunks))

	searcher, err := b.store.Open(ctx)
	if err != nil {
		// The chunks are still in memory; serve from them.
		b.logger.Warn("reopen persisted index failed", "error", err)
		return b.index(newMemorySearcher(chunks)), nil
	}
	return b.index(searcher), nil
}

func (b *Builder) index(s Searcher) *Index {
	return &Index{searcher: s, embedder: b.embedder, k: b.k, fetchK: b.fetchK, lambda: b.lambda}
}

// Index answers similarity queries. It is read-only and safe for
// concurrent use.
type Index struct {
	searcher Searcher
	embedder llm.Embedder
	k        int
	fetchK   int
	lambda   float64
}

func (ix *Index) Len() int { return ix.searcher.Len() }

// Retrieve returns up to k chunks chosen by MMR among the fetchK nearest.
func (ix *Index) Retrieve(ctx context.Context, query string) ([]Chunk, error) {
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrieval, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embed query: got %d vectors", ErrRetrieval, len(vecs))
	}
	candidates, err := ix.searcher.Nearest(ctx, vecs[0], ix.fetchK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.Vector
	}
	picked := MMR(vecs[0], vectors, ix.k, ix.lambda)
	out := make([]Chunk, len(picked))
	for i, idx := range picked {
		out[i] = candidates[idx]
	}
	return out, nil
}

// Fingerprint digests file names and contents, independent of order.
func Fingerprint(paths []string) (string, error) {
	h := sha256.New()
	for _, p := range sortedCopy(paths) {
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		_, _ = io.WriteString(h, filepath.Base(p))
		_, _ = h.Write([]byte{0})
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}
