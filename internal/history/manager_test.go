package history

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memStore struct {
	mu      sync.Mutex
	records map[int64]History
	loads   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]History)}
}

func (s *memStore) Load(_ context.Context, userID int64) (History, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	h, ok := s.records[userID]
	return h.Clone(), ok, nil
}

func (s *memStore) Save(_ context.Context, userID int64, h History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[userID] = h.Clone()
	return nil
}

func (s *memStore) get(userID int64) History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[userID].Clone()
}

func TestManagerLoadsLazilyOnce(t *testing.T) {
	store := newMemStore()
	store.records[1] = History{}.Append("q", "a")
	m := NewManager(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h, err := m.Get(ctx, 1)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(h) != 2 {
			t.Fatalf("expected 2 turns, got %d", len(h))
		}
	}
	if store.loads != 1 {
		t.Fatalf("expected a single store load, got %d", store.loads)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 cached session, got %d", m.Len())
	}
}

func TestManagerGetReturnsCopy(t *testing.T) {
	store := newMemStore()
	store.records[1] = History{}.Append("hello", "hi")
	m := NewManager(store)
	ctx := context.Background()

	h, _ := m.Get(ctx, 1)
	h[0].Content = "mutated"
	again, _ := m.Get(ctx, 1)
	if again[0].Content != "hello" {
		t.Fatalf("cached state mutated via returned slice")
	}
}

func TestManagerUpdateFailureLeavesState(t *testing.T) {
	store := newMemStore()
	m := NewManager(store)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.Update(ctx, 1, func(h History) (History, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	store.saveErr = ErrStorage
	err = m.Update(ctx, 1, func(h History) (History, error) { return h.Append("q", "a"), nil })
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected save error, got %v", err)
	}
	h, _ := m.Get(ctx, 1)
	if len(h) != 0 {
		t.Fatalf("failed save must not change the cache, got %d turns", len(h))
	}
	if _, ok := store.records[1]; ok {
		t.Fatalf("nothing should have been stored")
	}
}

func TestManagerUnserializedLosesTurn(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, WithoutSerialization())
	ctx := context.Background()

	// Both updates read the snapshot before either writes.
	var entered sync.WaitGroup
	entered.Add(2)
	var done sync.WaitGroup
	for _, q := range []string{"first", "second"} {
		done.Add(1)
		go func(q string) {
			defer done.Done()
			_ = m.Update(ctx, 1, func(h History) (History, error) {
				entered.Done()
				entered.Wait()
				return h.Append(q, "answer to "+q), nil
			})
		}(q)
	}
	done.Wait()

	if got := len(store.get(1)); got != 2 {
		t.Fatalf("expected a lost update leaving 2 turns, got %d", got)
	}
}

func TestManagerSerializedKeepsEveryTurn(t *testing.T) {
	store := newMemStore()
	m := NewManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, q := range []string{"first", "second"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			if err := m.Update(ctx, 1, func(h History) (History, error) {
				return h.Append(q, "answer to "+q), nil
			}); err != nil {
				t.Errorf("update: %v", err)
			}
		}(q)
	}
	wg.Wait()

	h := store.get(1)
	if len(h) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(h))
	}
	for i := 0; i < 4; i += 2 {
		if h[i].Role != RoleUser || h[i+1].Role != RoleAssistant {
			t.Fatalf("turns interleaved: %+v", h)
		}
		if h[i+1].Content != "answer to "+h[i].Content {
			t.Fatalf("pair mismatch at %d: %+v", i, h)
		}
	}
}

func TestManagerDisableAllKeepsStoredTurns(t *testing.T) {
	store := newMemStore()
	store.records[5] = History{}.Append("q1", "a1")
	m := NewManager(store)
	ctx := context.Background()

	if err := m.DisableAll(ctx, 5); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if got := m.ContextStart(5); got != 2 {
		t.Fatalf("expected context to start at 2, got %d", got)
	}
	if err := m.Update(ctx, 5, func(h History) (History, error) {
		return h.Append("q2", "a2"), nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(store.records[5]) != 4 {
		t.Fatalf("stored turns must be kept, got %+v", store.records[5])
	}
	h, _ := m.Get(ctx, 5)
	used := h.Since(m.ContextStart(5))
	if len(used) != 2 || used[0].Content != "q2" {
		t.Fatalf("unexpected context turns: %+v", used)
	}
	if m.ContextStart(6) != 0 {
		t.Fatalf("untouched users use their whole history")
	}
}

func TestHistorySince(t *testing.T) {
	h := History{}.Append("q", "a")
	if len(h.Since(0)) != 2 || len(h.Since(-1)) != 2 {
		t.Fatal("non-positive start keeps everything")
	}
	if got := h.Since(5); got == nil || len(got) != 0 {
		t.Fatalf("start past the end must give an empty history, got %#v", got)
	}
}
