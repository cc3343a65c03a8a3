package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uDoug/ChatBot/internal/corpus"
)

type rebuildCall struct {
	force  bool
	ctxErr error
}

type fakeCorpus struct {
	status  corpus.Status
	proceed chan struct{}
	rebuilt chan rebuildCall
}

func (f *fakeCorpus) Status() corpus.Status { return f.status }

func (f *fakeCorpus) Rebuild(ctx context.Context, force bool) error {
	<-f.proceed
	f.rebuilt <- rebuildCall{force: force, ctxErr: ctx.Err()}
	return nil
}

type fakeSessions int

func (f fakeSessions) Sessions() int { return int(f) }

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(8080, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(8080, &fakeCorpus{status: corpus.Status{Ready: true, Chunks: 42}}, fakeSessions(3))

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Service != "themis" || !body.Corpus.Ready || body.Corpus.Chunks != 42 || body.Sessions != 3 {
		t.Errorf("unexpected status: %+v", body)
	}
}

func TestReindexEndpoint(t *testing.T) {
	c := &fakeCorpus{proceed: make(chan struct{}), rebuilt: make(chan rebuildCall, 1)}
	srv := NewServer(8080, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/api/v1/corpus/reindex", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	// The rebuild must outlive the request that scheduled it.
	cancel()
	close(c.proceed)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
	select {
	case call := <-c.rebuilt:
		if !call.force {
			t.Errorf("expected a forced rebuild")
		}
		if call.ctxErr != nil {
			t.Errorf("rebuild context ended with the request: %v", call.ctxErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a forced rebuild")
	}

	req = httptest.NewRequest("GET", "/api/v1/corpus/reindex", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestReindexWithoutCorpus(t *testing.T) {
	srv := NewServer(8080, nil, nil)
	req := httptest.NewRequest("POST", "/api/v1/corpus/reindex", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := NewServer(8080, nil, nil)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
