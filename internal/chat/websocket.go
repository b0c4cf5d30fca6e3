package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/grochat/grochat/internal/domain"
	"github.com/grochat/grochat/internal/identity"
	"github.com/grochat/grochat/internal/store"
)

// Scheduler accepts AI-generation requests without blocking the chat path.
type Scheduler interface {
	Schedule(roomID int64, userID, goal string)
}

// WebSocketHandler upgrades room channel requests and runs the per-connection
// read loop.
type WebSocketHandler struct {
	repo          store.Repository
	registry      *Registry
	dispatcher    *Dispatcher
	scheduler     Scheduler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(repo store.Repository, registry *Registry, dispatcher *Dispatcher, scheduler Scheduler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		repo:          repo,
		registry:      registry,
		dispatcher:    dispatcher,
		scheduler:     scheduler,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// MaxContentLength caps inbound message content in bytes. Both ingest paths
// (WebSocket and REST) enforce the same limit.
const MaxContentLength = 4096

// inboundFrame is the only client-to-server frame shape. Sender identity and
// timestamps are stamped server-side.
type inboundFrame struct {
	Content string `json:"content"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	username := identity.UsernameFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	roomID, err := strconv.ParseInt(r.URL.Query().Get("room_id"), 10, 64)
	if err != nil {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load room for handshake", "room_id", roomID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	member, err := h.repo.IsMember(r.Context(), roomID, userID)
	if err != nil {
		slog.Error("Failed to check membership for handshake", "room_id", roomID, "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "not a member of this room", http.StatusForbidden)
		return
	}

	slog.Info("WebSocket connection request", "room_id", roomID, "user_id", userID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	conn := NewConnection(roomID, userID, &wsSender{conn: ws})
	if err := h.registry.Join(roomID, conn); err != nil {
		slog.Error("Failed to join room", "room_id", roomID, "user_id", userID, "error", err)
		return
	}
	defer h.registry.Leave(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, roomID, userID, username)
	slog.Info("Room channel closed", "room_id", roomID, "user_id", userID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop consumes inbound frames until the connection closes. Each
// accepted message is persisted, fanned out, and inspected for the AI
// trigger; generation work never runs on this loop.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, roomID int64, userID, username string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("Ignoring malformed inbound frame", "user_id", userID, "error", err)
			continue
		}
		content := strings.TrimSpace(frame.Content)
		if content == "" {
			continue
		}
		if len(content) > MaxContentLength {
			slog.Debug("Ignoring oversized message", "user_id", userID, "bytes", len(content))
			continue
		}

		msg := &domain.Message{
			RoomID:   roomID,
			UserID:   userID,
			Username: username,
			Content:  content,
		}

		insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = h.repo.InsertMessage(insertCtx, msg)
		cancel()
		if err != nil {
			slog.Error("Failed to persist message", "room_id", roomID, "user_id", userID, "error", err)
			continue
		}

		h.dispatcher.PublishMessage(msg)

		if trig, ok := DetectTrigger(content); ok {
			h.scheduler.Schedule(roomID, userID, trig.Goal)
		}

		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}
