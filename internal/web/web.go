// Package web serves the read-only report API: run history, trees,
// cached evaluations and live progress.
package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"expectree/internal/db"
	"expectree/internal/evalcache"
	"expectree/internal/progress"
)

// Runs is the part of the run history the API reads.
type Runs interface {
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (db.Run, error)
	RunTree(ctx context.Context, id string) ([]byte, error)
}

type Handler struct {
	runs    Runs
	evals   evalcache.Store
	tracker *progress.Tracker
}

func NewHandler(runs Runs, evals evalcache.Store, tracker *progress.Tracker) *Handler {
	return &Handler{runs: runs, evals: evals, tracker: tracker}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/progress", h.tracker.Handler())
	r.Get("/api/progress/events", h.tracker.SSEHandler())

	r.Get("/api/runs", h.handleRuns)
	r.Get("/api/runs/{id}", h.handleRun)
	r.Get("/api/runs/{id}/tree", h.handleRunTree)
	r.Get("/api/positions/eval", h.handlePositionEval)
	return r
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleRunTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.runs.RunTree(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(tree) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run has no tree yet"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tree)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
