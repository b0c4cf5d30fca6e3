package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grochat/grochat/internal/chat"
	"github.com/grochat/grochat/internal/domain"
	"github.com/grochat/grochat/internal/identity"
	"github.com/grochat/grochat/internal/store"
)

// stubRepo implements the handful of Repository methods the rooms handler
// touches; everything else panics via the embedded nil interface.
type stubRepo struct {
	store.Repository

	rooms    map[int64]*domain.Room
	members  map[int64]map[string]bool
	users    map[string]*domain.User
	messages []*domain.Message
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		rooms:   make(map[int64]*domain.Room),
		members: make(map[int64]map[string]bool),
		users:   make(map[string]*domain.User),
	}
}

func (r *stubRepo) GetRoom(ctx context.Context, roomID int64) (*domain.Room, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return room, nil
}

func (r *stubRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) IsMember(ctx context.Context, roomID int64, userID string) (bool, error) {
	return r.members[roomID][userID], nil
}

func (r *stubRepo) AddMember(ctx context.Context, roomID int64, userID string) error {
	if r.members[roomID][userID] {
		return store.ErrAlreadyMember
	}
	if r.members[roomID] == nil {
		r.members[roomID] = make(map[string]bool)
	}
	r.members[roomID][userID] = true
	return nil
}

func (r *stubRepo) InsertMessage(ctx context.Context, msg *domain.Message) error {
	msg.ID = int64(len(r.messages) + 1)
	msg.CreatedAt = time.Now()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *stubRepo) ListMessages(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	return r.messages, nil
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingScheduler) Schedule(roomID int64, userID, goal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, goal)
}

func (s *recordingScheduler) goals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func setupRoomsTest() (*stubRepo, *recordingScheduler, *chi.Mux) {
	repo := newStubRepo()
	repo.rooms[1] = &domain.Room{ID: 1, Name: "pantry", OwnerID: "anon_owner"}
	repo.members[1] = map[string]bool{"anon_owner": true}
	repo.users["anon_owner"] = &domain.User{UserID: "anon_owner", Username: "owner"}
	repo.users["anon_guest"] = &domain.User{UserID: "anon_guest", Username: "guest"}

	scheduler := &recordingScheduler{}
	h := NewRoomsHandler(repo, chat.NewDispatcher(chat.NewRegistry()), scheduler)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return repo, scheduler, r
}

func doRequest(r http.Handler, method, path, body, userID, username string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(identity.WithIdentity(req.Context(), userID, username))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPostMessageSchedulesTrigger(t *testing.T) {
	repo, scheduler, r := setupRoomsTest()

	rec := doRequest(r, http.MethodPost, "/api/rooms/1/messages",
		`{"content":"@gro please restock"}`, "anon_owner", "owner")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(repo.messages) != 1 || repo.messages[0].Content != "@gro please restock" {
		t.Fatalf("persisted messages = %+v", repo.messages)
	}

	goals := scheduler.goals()
	if len(goals) != 1 || goals[0] != "please restock" {
		t.Errorf("scheduled goals = %v, want [please restock]", goals)
	}
}

func TestPostMessageWithoutTrigger(t *testing.T) {
	_, scheduler, r := setupRoomsTest()

	rec := doRequest(r, http.MethodPost, "/api/rooms/1/messages",
		`{"content":"we are out of milk"}`, "anon_owner", "owner")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if goals := scheduler.goals(); len(goals) != 0 {
		t.Errorf("scheduled goals = %v, want none", goals)
	}
}

func TestPostMessageRequiresMembership(t *testing.T) {
	repo, scheduler, r := setupRoomsTest()

	rec := doRequest(r, http.MethodPost, "/api/rooms/1/messages",
		`{"content":"@gro hello"}`, "anon_guest", "guest")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(repo.messages) != 0 {
		t.Errorf("non-member message was persisted: %+v", repo.messages)
	}
	if goals := scheduler.goals(); len(goals) != 0 {
		t.Errorf("non-member message scheduled generation: %v", goals)
	}
}

func TestPostMessageValidation(t *testing.T) {
	_, _, r := setupRoomsTest()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty content", "/api/rooms/1/messages", `{"content":"   "}`, http.StatusBadRequest},
		{"bad json", "/api/rooms/1/messages", `{`, http.StatusBadRequest},
		{"bad room id", "/api/rooms/abc/messages", `{"content":"hi"}`, http.StatusBadRequest},
		{"oversized content", "/api/rooms/1/messages",
			`{"content":"` + strings.Repeat("x", chat.MaxContentLength+1) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(r, http.MethodPost, tt.path, tt.body, "anon_owner", "owner")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestInviteOwnerOnly(t *testing.T) {
	repo, _, r := setupRoomsTest()

	rec := doRequest(r, http.MethodPost, "/api/rooms/1/invite",
		`{"username":"guest"}`, "anon_guest", "guest")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner invite status = %d, want 403", rec.Code)
	}

	rec = doRequest(r, http.MethodPost, "/api/rooms/1/invite",
		`{"username":"guest"}`, "anon_owner", "owner")
	if rec.Code != http.StatusOK {
		t.Fatalf("owner invite status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !repo.members[1]["anon_guest"] {
		t.Error("invite did not add membership")
	}

	// Re-inviting an existing member is a client error.
	rec = doRequest(r, http.MethodPost, "/api/rooms/1/invite",
		`{"username":"guest"}`, "anon_owner", "owner")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate invite status = %d, want 400", rec.Code)
	}

	rec = doRequest(r, http.MethodPost, "/api/rooms/1/invite",
		`{"username":"nobody"}`, "anon_owner", "owner")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown invitee status = %d, want 404", rec.Code)
	}
}

func TestGetMessages(t *testing.T) {
	repo, _, r := setupRoomsTest()
	repo.messages = []*domain.Message{
		{ID: 1, RoomID: 1, Username: "owner", Content: "hello"},
	}

	rec := doRequest(r, http.MethodGet, "/api/rooms/1/messages", "", "anon_owner", "owner")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", resp.Messages)
	}

	rec = doRequest(r, http.MethodGet, "/api/rooms/42/messages", "", "anon_owner", "owner")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing room status = %d, want 404", rec.Code)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	_, _, r := setupRoomsTest()

	rec := doRequest(r, http.MethodPost, "/api/rooms/1/messages",
		`{"content":"hi"}`, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
