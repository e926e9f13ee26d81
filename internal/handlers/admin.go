package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"delegation-cache/internal/cache"
	"delegation-cache/pkg/logging/logging"
)

// AdminHandler serves the management endpoints of a running cache. It
// never exposes stored values.
type AdminHandler struct {
	Cache cache.Cache
}

func NewAdminHandler(c cache.Cache) *AdminHandler {
	return &AdminHandler{Cache: c}
}

type sweepResponse struct {
	Removed int `json:"removed"`
}

type clearResponse struct {
	EntriesRemoved int   `json:"entries_removed"`
	BytesReleased  int64 `json:"bytes_released"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Stats handles GET /v1/cache/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

// Sweep handles POST /v1/cache/sweep.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed := h.Cache.SweepExpired(r.Context())
	logging.L(r.Context()).Info("admin sweep", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, sweepResponse{Removed: removed})
}

// Invalidate handles DELETE /v1/cache/entries/{key}. Removing an absent
// key is not an error.
func (h *AdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "key")
	key, err := cache.ParseKey(raw)
	if err != nil {
		logging.L(r.Context()).Warn("admin invalidate: bad key", zap.String("key", raw), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_key"})
		return
	}
	h.Cache.Invalidate(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /v1/cache/entries. Lifetime counters survive.
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	before := h.Cache.Stats()
	h.Cache.Clear(r.Context())
	writeJSON(w, http.StatusOK, clearResponse{
		EntriesRemoved: before.Entries,
		BytesReleased:  before.Bytes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
