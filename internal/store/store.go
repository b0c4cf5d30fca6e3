// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/grochat/grochat/internal/domain"
)

// Sentinel errors returned by Repository implementations.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrNameTaken     = errors.New("room name already taken")
	ErrAlreadyMember = errors.New("user already a member of this room")
)

// Repository defines the interface for persisting chat and inventory data.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by username. Returns nil, nil when absent.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpdatePreferredModel updates the user's preferred generation model.
	UpdatePreferredModel(ctx context.Context, userID, model string) error

	// CreateRoom creates a room owned by ownerID and adds the owner as a member.
	CreateRoom(ctx context.Context, name, ownerID string) (*domain.Room, error)

	// GetRoom retrieves a room by ID. Returns ErrRoomNotFound when absent.
	GetRoom(ctx context.Context, roomID int64) (*domain.Room, error)

	// ListRooms returns the rooms the user is a member of.
	ListRooms(ctx context.Context, userID string) ([]*domain.Room, error)

	// ListMembers returns the members of a room.
	ListMembers(ctx context.Context, roomID int64) ([]*domain.Member, error)

	// IsMember reports whether the user belongs to the room.
	IsMember(ctx context.Context, roomID int64, userID string) (bool, error)

	// AddMember adds a user to a room. Returns ErrAlreadyMember on duplicates.
	AddMember(ctx context.Context, roomID int64, userID string) error

	// InsertMessage persists a message and fills in its ID and timestamp.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns up to limit most recent room messages, oldest first.
	ListMessages(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error)

	// ListInventory returns the user's inventory items.
	ListInventory(ctx context.Context, userID string) ([]*domain.InventoryItem, error)

	// SearchGroceryItems finds catalog entries relevant to a product name.
	SearchGroceryItems(ctx context.Context, productName string, limit int) ([]*domain.GroceryItem, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
