package history

import (
	"context"
	"sync"
)

type session struct {
	// run serializes Update calls for one user.
	run sync.Mutex

	mu     sync.RWMutex
	loaded bool
	turns  History
	// start is the first turn still used as prompt context.
	start int
}

// Manager is the in-process cache of user histories layered over a Store.
// Sessions are created lazily on first access and loaded from the store;
// a missing record yields an empty history.
type Manager struct {
	store     Store
	serialize bool

	mu       sync.Mutex
	sessions map[int64]*session
}

type Option func(*Manager)

// WithoutSerialization lets concurrent Update calls for the same user read
// the same snapshot. One of the writes is then lost; only tests use it.
func WithoutSerialization() Option {
	return func(m *Manager) { m.serialize = false }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		serialize: true,
		sessions:  make(map[int64]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) session(userID int64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = &session{}
		m.sessions[userID] = s
	}
	return s
}

// Get returns a copy of the user's history, loading it on first access.
func (m *Manager) Get(ctx context.Context, userID int64) (History, error) {
	return m.load(ctx, m.session(userID), userID)
}

// Update runs fn on the current history and stores its result. The cache is
// only replaced after the store accepted the new history, so a failing fn or
// a failing save leaves both untouched.
func (m *Manager) Update(ctx context.Context, userID int64, fn func(History) (History, error)) error {
	s := m.session(userID)
	if m.serialize {
		s.run.Lock()
		defer s.run.Unlock()
	}

	current, err := m.load(ctx, s, userID)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, userID, next); err != nil {
		return err
	}

	s.mu.Lock()
	s.turns = next.Clone()
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// DisableAll stops the turns recorded so far from being used as context.
// The stored history is left as it is; the marker lives in memory only.
func (m *Manager) DisableAll(ctx context.Context, userID int64) error {
	s := m.session(userID)
	if m.serialize {
		s.run.Lock()
		defer s.run.Unlock()
	}
	if _, err := m.load(ctx, s, userID); err != nil {
		return err
	}
	s.mu.Lock()
	s.start = len(s.turns)
	s.mu.Unlock()
	return nil
}

// ContextStart returns the index of the first turn still used as context.
func (m *Manager) ContextStart(userID int64) int {
	s := m.session(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start
}

// Len reports the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) load(ctx context.Context, s *session, userID int64) (History, error) {
	s.mu.RLock()
	if s.loaded {
		h := s.turns.Clone()
		s.mu.RUnlock()
		return h, nil
	}
	s.mu.RUnlock()

	h, ok, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		h = History{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.turns = h
		s.loaded = true
	}
	return s.turns.Clone(), nil
}
