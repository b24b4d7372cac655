package web

import (
	"errors"
	"net/http"
	"strings"

	"expectree/internal/evalcache"
	"expectree/internal/position"
)

type PositionEvalResponse struct {
	Key    string  `json:"key"`
	Cached bool    `json:"cached"`
	Score  float64 `json:"score,omitempty"` // for White
	Raw    string  `json:"raw,omitempty"`
	Mate   bool    `json:"mate,omitempty"`
	Depth  int     `json:"depth,omitempty"`
	Engine string  `json:"engine,omitempty"`
}

func (h *Handler) handlePositionEval(w http.ResponseWriter, r *http.Request) {
	fen := strings.TrimSpace(r.URL.Query().Get("fen"))
	if fen == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fen"})
		return
	}
	key, _, err := position.Normalize(fen)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e, err := h.evals.Get(r.Context(), key)
	if errors.Is(err, evalcache.ErrNotFound) {
		writeJSON(w, http.StatusOK, PositionEvalResponse{Key: key})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionEvalResponse{
		Key:    key,
		Cached: true,
		Score:  e.Score,
		Raw:    e.Raw,
		Mate:   e.Mate,
		Depth:  e.Depth,
		Engine: e.Engine,
	})
}
