// Package chat provides the real-time room message bus: the connection
// registry, the broadcast dispatcher, trigger detection, and the WebSocket
// endpoint they hang off.
package chat

import (
	"context"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Sender delivers outbound frames to one client channel.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string)
}

// Connection is an opaque handle to one client's room channel. It is owned
// by the Registry from Join until Leave.
type Connection struct {
	ID     string
	RoomID int64
	UserID string
	sender Sender
}

// NewConnection wraps a client channel in a connection handle.
func NewConnection(roomID int64, userID string, sender Sender) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		RoomID: roomID,
		UserID: userID,
		sender: sender,
	}
}

// wsSender adapts websocket.Conn to the Sender interface. Writes use the
// caller-supplied context; the WebSocket library tracks connection state
// itself.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSender) Close(reason string) {
	_ = s.conn.Close(websocket.StatusNormalClosure, reason)
}
