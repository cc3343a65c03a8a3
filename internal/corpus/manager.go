package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Status describes the currently loaded index.
type Status struct {
	Ready    bool `json:"ready"`
	Chunks   int  `json:"chunks"`
	Building bool `json:"building"`
}

// Manager builds the index on first use and hands the same read-only Index
// to every caller. Rebuilds happen off the request path: the previous index
// keeps serving until its replacement is ready.
type Manager struct {
	builder *Builder
	source  Source
	logger  *slog.Logger

	buildMu  sync.Mutex // one build at a time
	building atomic.Bool

	mu      sync.Mutex
	index   *Index
	pending *pendingBuild
}

type pendingBuild struct {
	done chan struct{}
	err  error
}

func NewManager(builder *Builder, source Source, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{builder: builder, source: source, logger: logger}
}

// Index returns the current index, building or loading it when none exists
// yet. The first build is shared by all waiting callers and is not cancelled
// with ctx: a caller whose deadline passes gets an error while the build
// carries on for the next one. Without any source document it returns
// ErrNoDocuments and tries again on the next call.
func (m *Manager) Index(ctx context.Context) (*Index, error) {
	m.mu.Lock()
	if ix := m.index; ix != nil {
		m.mu.Unlock()
		return ix, nil
	}
	p := m.pending
	if p == nil {
		p = &pendingBuild{done: make(chan struct{})}
		m.pending = p
		go m.runPending(context.WithoutCancel(ctx), p)
	}
	m.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for index: %w", ErrIndexBuild, ctx.Err())
	}
	if p.err != nil {
		return nil, p.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index, nil
}

func (m *Manager) runPending(ctx context.Context, p *pendingBuild) {
	err := m.Rebuild(ctx, false)
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	p.err = err
	close(p.done)
}

func (m *Manager) Retrieve(ctx context.Context, query string) ([]Chunk, error) {
	ix, err := m.Index(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Retrieve(ctx, query)
}

// Rebuild fetches the sources and builds a new index, then swaps it in.
// With force set the persisted copy is ignored. Readers keep the current
// index meanwhile, and it stays in place when the build fails.
func (m *Manager) Rebuild(ctx context.Context, force bool) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	m.building.Store(true)
	defer m.building.Store(false)

	sources, err := m.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch documents: %w", ErrIndexBuild, err)
	}
	if len(sources) == 0 {
		return ErrNoDocuments
	}

	var ix *Index
	if force {
		ix, err = m.builder.Build(ctx, sources)
	} else {
		ix, err = m.builder.BuildOrLoad(ctx, sources)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.index = ix
	m.mu.Unlock()
	m.logger.Info("corpus index ready", "documents", len(sources), "chunks", ix.Len(), "forced", force)
	return nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Building: m.building.Load()}
	if m.index != nil {
		st.Ready = true
		st.Chunks = m.index.Len()
	}
	return st
}
