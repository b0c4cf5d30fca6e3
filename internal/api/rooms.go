package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/grochat/grochat/internal/chat"
	"github.com/grochat/grochat/internal/domain"
	"github.com/grochat/grochat/internal/identity"
	"github.com/grochat/grochat/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxRoomNameLength   = 100
)

// RoomsHandler serves room and message endpoints. Posting a message takes
// the same path as the WebSocket read loop: persist, fan out, inspect for
// the AI trigger.
type RoomsHandler struct {
	repo       store.Repository
	dispatcher *chat.Dispatcher
	scheduler  chat.Scheduler
}

// NewRoomsHandler creates the rooms REST handler.
func NewRoomsHandler(repo store.Repository, dispatcher *chat.Dispatcher, scheduler chat.Scheduler) *RoomsHandler {
	return &RoomsHandler{repo: repo, dispatcher: dispatcher, scheduler: scheduler}
}

// RegisterRoutes registers the room routes.
func (h *RoomsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{roomID}/members", h.handleMembers)
		r.Post("/{roomID}/invite", h.handleInvite)
		r.Get("/{roomID}/messages", h.handleMessages)
		r.Post("/{roomID}/messages", h.handlePostMessage)
	})
}

func roomIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
}

func (h *RoomsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rooms, err := h.repo.ListRooms(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list rooms", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	if rooms == nil {
		rooms = []*domain.Room{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (h *RoomsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" || len(name) > maxRoomNameLength {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	room, err := h.repo.CreateRoom(r.Context(), name, userID)
	if err != nil {
		if errors.Is(err, store.ErrNameTaken) {
			Error(w, http.StatusBadRequest, "room name already taken")
			return
		}
		slog.Error("Failed to create room", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"ok": true, "room": room})
}

func (h *RoomsHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	if _, err := h.repo.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			Error(w, http.StatusNotFound, "room not found")
			return
		}
		slog.Error("Failed to load room", "room_id", roomID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	members, err := h.repo.ListMembers(r.Context(), roomID)
	if err != nil {
		slog.Error("Failed to list members", "room_id", roomID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []*domain.Member{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

func (h *RoomsHandler) handleInvite(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := roomIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	room, err := h.repo.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			Error(w, http.StatusNotFound, "room not found")
			return
		}
		slog.Error("Failed to load room", "room_id", roomID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	if room.OwnerID != userID {
		Error(w, http.StatusForbidden, "only room owner can invite")
		return
	}

	var payload struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Username) == "" {
		Error(w, http.StatusBadRequest, "username is required")
		return
	}

	invitee, err := h.repo.GetUserByUsername(r.Context(), strings.TrimSpace(payload.Username))
	if err != nil {
		slog.Error("Failed to look up invitee", "username", payload.Username, "error", err)
		Error(w, http.StatusInternalServerError, "failed to look up user")
		return
	}
	if invitee == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.repo.AddMember(r.Context(), roomID, invitee.UserID); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			Error(w, http.StatusBadRequest, "user already in room")
			return
		}
		slog.Error("Failed to add member", "room_id", roomID, "user_id", invitee.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *RoomsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	if _, err := h.repo.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			Error(w, http.StatusNotFound, "room not found")
			return
		}
		slog.Error("Failed to load room", "room_id", roomID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxMessageLimit {
			limit = n
		}
	}

	messages, err := h.repo.ListMessages(r.Context(), roomID, limit)
	if err != nil {
		slog.Error("Failed to list messages", "room_id", roomID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *RoomsHandler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	username := identity.UsernameFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := roomIDParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	member, err := h.repo.IsMember(r.Context(), roomID, userID)
	if err != nil {
		slog.Error("Failed to check membership", "room_id", roomID, "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !member {
		Error(w, http.StatusForbidden, "not a member of this room")
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(payload.Content)
	if content == "" || len(content) > chat.MaxContentLength {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := &domain.Message{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		Content:  content,
	}
	if err := h.repo.InsertMessage(r.Context(), msg); err != nil {
		slog.Error("Failed to persist message", "room_id", roomID, "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	h.dispatcher.PublishMessage(msg)

	if trig, ok := chat.DetectTrigger(content); ok {
		h.scheduler.Schedule(roomID, userID, trig.Goal)
	}

	JSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": msg.ID})
}
