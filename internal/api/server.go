// Package api serves the operational HTTP endpoints of the bot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/uDoug/ChatBot/internal/corpus"
)

type Corpus interface {
	Status() corpus.Status
	Rebuild(ctx context.Context, force bool) error
}

type Sessions interface {
	Sessions() int
}

type Server struct {
	router   *chi.Mux
	port     int
	corpus   Corpus
	sessions Sessions
	started  time.Time
}

func NewServer(port int, c Corpus, s Sessions) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	srv := &Server{
		router:   router,
		port:     port,
		corpus:   c,
		sessions: s,
		started:  time.Now(),
	}

	router.Get("/health", srv.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", srv.status)
		r.Post("/corpus/reindex", srv.reindex)
	})

	return srv
}

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type statusResponse struct {
	Service  string        `json:"service"`
	Corpus   corpus.Status `json:"corpus"`
	Sessions int           `json:"sessions"`
	Uptime   string        `json:"uptime"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Service: "themis",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.corpus != nil {
		resp.Corpus = s.corpus.Status()
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Sessions()
	}
	writeJSON(w, http.StatusOK, resp)
}

// reindex rebuilds the index from the source documents in the background.
// The loaded index keeps answering until the new one is ready.
func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	if s.corpus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "corpus not configured"})
		return
	}
	reqID := middleware.GetReqID(r.Context())
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.corpus.Rebuild(ctx, true); err != nil {
			slog.Error("corpus reindex failed", "request_id", reqID, "error", err)
			return
		}
		slog.Info("corpus reindexed", "request_id", reqID)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
