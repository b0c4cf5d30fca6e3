package chat

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrDuplicateConnection is returned by Join when the connection handle is
// already registered somewhere; callers must Leave before re-joining.
var ErrDuplicateConnection = errors.New("connection already registered")

// Registry tracks live connections grouped by room. Membership changes are
// visible to the very next MembersOf call.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]*Connection
	byID  map[string]int64
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[int64]map[string]*Connection),
		byID:  make(map[string]int64),
	}
}

// Join registers a connection under a room.
func (r *Registry) Join(roomID int64, c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID]; exists {
		return ErrDuplicateConnection
	}

	if _, exists := r.rooms[roomID]; !exists {
		r.rooms[roomID] = make(map[string]*Connection)
	}
	r.rooms[roomID][c.ID] = c
	r.byID[c.ID] = roomID

	slog.Info("Connection joined room", "room_id", roomID, "user_id", c.UserID, "conn_id", c.ID)
	return nil
}

// Leave removes a connection from whichever room it belongs to. Leaving an
// already-absent connection is a no-op.
func (r *Registry) Leave(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, exists := r.byID[c.ID]
	if !exists {
		return
	}
	delete(r.byID, c.ID)

	if members, ok := r.rooms[roomID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}

	slog.Info("Connection left room", "room_id", roomID, "user_id", c.UserID, "conn_id", c.ID)
}

// MembersOf returns a snapshot of the connections currently joined to a
// room. Callers iterating the snapshot are unaffected by concurrent joins
// and leaves.
func (r *Registry) MembersOf(roomID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}
