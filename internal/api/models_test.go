package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/grochat/grochat/internal/domain"
	"github.com/grochat/grochat/internal/store"
)

func (r *stubRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return r.users[userID], nil
}

func (r *stubRepo) UpdatePreferredModel(ctx context.Context, userID, model string) error {
	u, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.PreferredModel = model
	return nil
}

func setupModelsTest() (*stubRepo, *chi.Mux) {
	repo := newStubRepo()
	repo.users["anon_1"] = &domain.User{UserID: "anon_1", Username: "shopper-1"}

	r := chi.NewRouter()
	NewModelsHandler(repo, "tinyllama").RegisterRoutes(r)
	return repo, r
}

func TestGetModelFallsBackToDefault(t *testing.T) {
	repo, r := setupModelsTest()

	rec := doRequest(r, http.MethodGet, "/api/users/llm-model", "", "anon_1", "shopper-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp["model"] != "tinyllama" {
		t.Errorf("model = %q, want configured default", resp["model"])
	}

	repo.users["anon_1"].PreferredModel = "llama3"
	rec = doRequest(r, http.MethodGet, "/api/users/llm-model", "", "anon_1", "shopper-1")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp["model"] != "llama3" {
		t.Errorf("model = %q, want stored preference", resp["model"])
	}
}

func TestPutModel(t *testing.T) {
	repo, r := setupModelsTest()

	rec := doRequest(r, http.MethodPut, "/api/users/llm-model",
		`{"model":"llama3"}`, "anon_1", "shopper-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := repo.users["anon_1"].PreferredModel; got != "llama3" {
		t.Errorf("stored preference = %q, want llama3", got)
	}

	rec = doRequest(r, http.MethodPut, "/api/users/llm-model",
		`{"model":"  "}`, "anon_1", "shopper-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty model status = %d, want 400", rec.Code)
	}

	rec = doRequest(r, http.MethodPut, "/api/users/llm-model",
		`{"model":"llama3"}`, "anon_unknown", "ghost")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}

	rec = doRequest(r, http.MethodPut, "/api/users/llm-model",
		`{"model":"llama3"}`, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}
}
