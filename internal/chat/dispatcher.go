package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/grochat/grochat/internal/domain"
)

// AIEvent is an asynchronously generated result pushed through the same
// channel as chat messages. Payload is produced by the AI collaborator and
// passed through unmodified.
type AIEvent struct {
	RoomID    int64
	Kind      string
	Narrative string
	Payload   json.RawMessage
}

type messageFrame struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

type eventFrame struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	RoomID    int64           `json:"room_id"`
	Narrative string          `json:"narrative"`
	Payload   json.RawMessage `json:"payload"`
}

const deliverTimeout = 5 * time.Second

// Dispatcher fans messages and AI events out to all connections registered
// for a room. Deliveries for one room happen in the order the Dispatcher
// accepted them; cross-room ordering is unspecified.
type Dispatcher struct {
	registry *Registry

	mu        sync.Mutex
	roomLocks map[int64]*sync.Mutex
}

// NewDispatcher creates a dispatcher fanning out to the given registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		roomLocks: make(map[int64]*sync.Mutex),
	}
}

// PublishMessage delivers a chat message to every current member of its room.
func (d *Dispatcher) PublishMessage(msg *domain.Message) {
	data, err := json.Marshal(messageFrame{Type: "message", Message: msg})
	if err != nil {
		slog.Error("Failed to marshal message frame", "room_id", msg.RoomID, "error", err)
		return
	}
	d.deliver(msg.RoomID, data)
}

// PublishEvent delivers an AI event to every current member of its room,
// tagged distinctly so clients can discriminate chat from AI content.
func (d *Dispatcher) PublishEvent(ev AIEvent) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	data, err := json.Marshal(eventFrame{
		Type:      "ai_event",
		Event:     ev.Kind,
		RoomID:    ev.RoomID,
		Narrative: ev.Narrative,
		Payload:   payload,
	})
	if err != nil {
		slog.Error("Failed to marshal event frame", "room_id", ev.RoomID, "event", ev.Kind, "error", err)
		return
	}
	d.deliver(ev.RoomID, data)
}

func (d *Dispatcher) roomLock(roomID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		d.roomLocks[roomID] = l
	}
	return l
}

// deliver writes one frame to every current room member. The per-room lock
// spans the membership snapshot and all writes, which is what guarantees
// per-room total order. A failed write never aborts the fan-out: the broken
// connection is reported to the registry for removal off the delivery path.
func (d *Dispatcher) deliver(roomID int64, data []byte) {
	l := d.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	for _, c := range d.registry.MembersOf(roomID) {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := c.sender.Send(ctx, data)
		cancel()
		if err == nil {
			continue
		}

		slog.Debug("Dropping unreachable connection", "room_id", roomID, "conn_id", c.ID, "error", err)
		go func(c *Connection) {
			d.registry.Leave(c)
			c.sender.Close("write failed")
		}(c)
	}
}
