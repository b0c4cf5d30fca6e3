// Package domain contains core domain types for the grochat application.
package domain

import (
	"time"
)

// User represents a chat participant.
type User struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	PreferredModel string    `json:"preferred_model,omitempty"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
