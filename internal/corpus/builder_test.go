package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// letterEmbedder maps text to rune-class frequencies plus a constant, so
// every vector is non-zero.
type letterEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	err   error
}

func (e *letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts += len(texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 8)
		for j := range v {
			v[j] = 1
		}
		for _, r := range strings.ToLower(t) {
			v[int(r)%8]++
		}
		out[i] = v
	}
	return out, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func paragraphs(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(prefix)
		b.WriteString(strings.Repeat(" cláusula contrato rescisão prazo", 3+i%4))
		b.WriteString(".\n\n")
	}
	return b.String()
}

func newTestBuilder(t *testing.T, emb *letterEmbedder, opts ...BuilderOption) (*Builder, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(filepath.Join(dir, "index", "corpus.bolt"))
	if err != nil {
		t.Fatalf("bolt store: %v", err)
	}
	opts = append([]BuilderOption{WithSplitter(NewSplitter(200, 40))}, opts...)
	return NewBuilder(store, emb, opts...), dir
}

func TestBuildOrLoadBuildsThenLoads(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb)
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 12))
	ctx := context.Background()

	ix, err := b.BuildOrLoad(ctx, []string{src})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ix.Len() < 5 {
		t.Fatalf("expected several chunks, got %d", ix.Len())
	}
	embedded := emb.texts

	// A second process loads the persisted index without embedding chunks.
	emb2 := &letterEmbedder{}
	b2 := NewBuilder(b.store, emb2)
	ix2, err := b2.BuildOrLoad(ctx, []string{src, filepath.Join(dir, "nova.txt")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if emb2.texts != 0 {
		t.Fatalf("load must not embed, embedded %d texts", emb2.texts)
	}
	if ix2.Len() != ix.Len() || embedded != ix.Len() {
		t.Fatalf("chunk counts differ: built %d, embedded %d, loaded %d", ix.Len(), embedded, ix2.Len())
	}
}

func TestBuildOrLoadFingerprintMismatchRebuilds(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb, WithFingerprintCheck(true))
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 4))
	ctx := context.Background()

	if _, err := b.BuildOrLoad(ctx, []string{src}); err != nil {
		t.Fatalf("build: %v", err)
	}
	calls := emb.calls
	if _, err := b.BuildOrLoad(ctx, []string{src}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if emb.calls != calls {
		t.Fatalf("unchanged sources must not rebuild")
	}

	writeFile(t, dir, "lei.txt", paragraphs("Artigo alterado", 6))
	ix, err := b.BuildOrLoad(ctx, []string{src})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if emb.calls == calls {
		t.Fatalf("changed sources must rebuild")
	}
	all, err := ix.searcher.Nearest(ctx, make([]float32, 8), ix.Len())
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	for _, c := range all {
		if strings.Contains(c.Content, "Art. cláusula") {
			t.Fatalf("index still serves old content: %q", c.Content)
		}
	}
}

func TestBuildSkipsUnreadableDocuments(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb)
	good := writeFile(t, dir, "ok.md", paragraphs("Seção", 2))
	broken := writeFile(t, dir, "broken.pdf", "not a pdf")

	ix, err := b.Build(context.Background(), []string{broken, good, filepath.Join(dir, "missing.txt")})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	chunks, err := ix.Retrieve(context.Background(), "seção")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, c := range chunks {
		if c.Source != "ok.md" {
			t.Fatalf("unexpected source %q", c.Source)
		}
	}
}

func TestBuildFailsWithoutLoadableDocuments(t *testing.T) {
	b, dir := newTestBuilder(t, &letterEmbedder{})
	empty := writeFile(t, dir, "vazio.txt", "   \n")

	_, err := b.Build(context.Background(), []string{empty, filepath.Join(dir, "missing.pdf")})
	if !errors.Is(err, ErrIndexBuild) {
		t.Fatalf("expected ErrIndexBuild, got %v", err)
	}
	_, err = b.Build(context.Background(), nil)
	if !errors.Is(err, ErrIndexBuild) {
		t.Fatalf("expected ErrIndexBuild for no sources, got %v", err)
	}
}

func TestBuildEmbeddingFailure(t *testing.T) {
	b, dir := newTestBuilder(t, &letterEmbedder{err: errors.New("quota")})
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 2))
	if _, err := b.Build(context.Background(), []string{src}); !errors.Is(err, ErrIndexBuild) {
		t.Fatalf("expected ErrIndexBuild, got %v", err)
	}
}

func TestRetrieveWithoutLexicalOverlap(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb)
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 12))
	ix, err := b.Build(context.Background(), []string{src})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := ix.Retrieve(context.Background(), "xyzzy 12345")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != DefaultK {
		t.Fatalf("expected %d chunks, got %d", DefaultK, len(got))
	}
	seen := map[int]bool{}
	for _, c := range got {
		if seen[c.ID] {
			t.Fatalf("duplicate chunk %d", c.ID)
		}
		seen[c.ID] = true
		if c.Content == "" || c.Offset < 0 {
			t.Fatalf("incomplete chunk: %+v", c)
		}
	}
}

func TestRetrieveDrawsFromFetchK(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb, WithRetrieval(4, 6, 0.5))
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 30))
	ctx := context.Background()
	ix, err := b.Build(ctx, []string{src})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	query := "prazo de rescisão"
	qv, _ := emb.Embed(ctx, []string{query})
	nearest, _ := ix.searcher.Nearest(ctx, qv[0], 6)
	allowed := map[int]bool{}
	for _, c := range nearest {
		allowed[c.ID] = true
	}
	got, err := ix.Retrieve(ctx, query)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) > 4 {
		t.Fatalf("expected at most 4 chunks, got %d", len(got))
	}
	for _, c := range got {
		if !allowed[c.ID] {
			t.Fatalf("chunk %d outside the fetch_k candidates", c.ID)
		}
	}
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb)
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 2))
	ix, err := b.Build(context.Background(), []string{src})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	emb.err = errors.New("timeout")
	if _, err := ix.Retrieve(context.Background(), "prazo"); !errors.Is(err, ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestBoltManifest(t *testing.T) {
	emb := &letterEmbedder{}
	b, dir := newTestBuilder(t, emb)
	ctx := context.Background()
	if _, ok, err := b.store.ReadManifest(ctx); ok || err != nil {
		t.Fatalf("expected no manifest before build, ok=%v err=%v", ok, err)
	}
	src := writeFile(t, dir, "lei.txt", paragraphs("Art.", 3))
	before := time.Now().Add(-time.Second)
	if _, err := b.Build(ctx, []string{src}); err != nil {
		t.Fatalf("build: %v", err)
	}
	m, ok, err := b.store.ReadManifest(ctx)
	if err != nil || !ok {
		t.Fatalf("read manifest: ok=%v err=%v", ok, err)
	}
	if m.Dimensions != 8 || m.Chunks == 0 || m.Fingerprint == "" || m.BuiltAt.Before(before) {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(m.Sources) != 1 || m.Sources[0] != "lei.txt" {
		t.Fatalf("unexpected sources: %v", m.Sources)
	}
}
