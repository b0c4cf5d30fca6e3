package domain

import (
	"time"
)

// Message is one chat message as stored and as delivered to clients.
// Bot messages carry no user ID; Username is set to the bot display name.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}
