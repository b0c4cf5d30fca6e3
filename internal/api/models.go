package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/grochat/grochat/internal/identity"
	"github.com/grochat/grochat/internal/store"
)

// ModelsHandler serves the per-user LLM model preference. Users without an
// explicit preference fall back to the configured default.
type ModelsHandler struct {
	repo         store.Repository
	defaultModel string
}

// NewModelsHandler creates the model preference handler.
func NewModelsHandler(repo store.Repository, defaultModel string) *ModelsHandler {
	return &ModelsHandler{repo: repo, defaultModel: defaultModel}
}

// RegisterRoutes registers the model preference routes.
func (h *ModelsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/users/llm-model", h.handleGet)
	r.Put("/api/users/llm-model", h.handlePut)
}

func (h *ModelsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	model := h.defaultModel
	if user != nil && user.PreferredModel != "" {
		model = user.PreferredModel
	}
	JSON(w, http.StatusOK, map[string]string{"model": model})
}

func (h *ModelsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	model := strings.TrimSpace(payload.Model)
	if model == "" {
		Error(w, http.StatusBadRequest, "model is required")
		return
	}

	if err := h.repo.UpdatePreferredModel(r.Context(), userID, model); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Failed to update model preference", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update model preference")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"ok": true, "model": model})
}
