package model

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/grochat/grochat/internal/api"
)

// Handler exposes the download tracker over HTTP. Both operations are
// idempotent: start is safe to call repeatedly, poll is read-only.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a download HTTP handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes registers the model download routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/models/download", h.handleStart)
	r.Get("/api/models/download-progress", h.handleProgress)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusAccepted, h.tracker.Start())
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.tracker.Progress())
}
