package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/grochat/grochat/internal/domain"
	"github.com/grochat/grochat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		preferred_model TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL REFERENCES users(user_id),
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT,
		username TEXT NOT NULL,
		content TEXT NOT NULL,
		is_bot INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);

	CREATE TABLE IF NOT EXISTS inventory (
		product_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		product_name TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		safety_stock_level INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_user ON inventory(user_id);

	CREATE TABLE IF NOT EXISTS grocery_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		sub_category TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		rating REAL
	);
	CREATE INDEX IF NOT EXISTS idx_grocery_title ON grocery_items(title);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// execWithRetry runs a write statement with bounded exponential backoff for
// SQLite concurrency errors.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var res sql.Result
	var err error
	for i := 0; i < maxRetries; i++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return res, err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("SQLite write conflict, retrying", "attempt", i+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return res, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `user_id, username, preferred_model, last_seen_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*domain.User, error) {
	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &user.PreferredModel, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, preferred_model, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.execWithRetry(ctx, query,
		user.UserID, user.Username, user.PreferredModel,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	result, err := s.execWithRetry(ctx,
		`UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`,
		lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// UpdatePreferredModel updates the user's preferred generation model.
func (s *SQLiteStore) UpdatePreferredModel(ctx context.Context, userID, model string) error {
	result, err := s.execWithRetry(ctx,
		`UPDATE users SET preferred_model = ?, updated_at = ? WHERE user_id = ?`,
		model, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update preferred_model: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateRoom creates a room owned by ownerID and adds the owner as a member.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name, ownerID string) (*domain.Room, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create room: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to rollback create room", "error", rbErr)
		}
	}()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM rooms WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		return nil, ErrNameTaken
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check room name: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (name, owner_id, created_at) VALUES (?, ?, ?)`,
		name, ownerID, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	roomID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("room insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		roomID, ownerID, now.Unix()); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create room: %w", err)
	}

	return &domain.Room{ID: roomID, Name: name, OwnerID: ownerID, CreatedAt: now}, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID int64) (*domain.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM rooms WHERE id = ?`, roomID)

	var room domain.Room
	var createdAt int64
	err := row.Scan(&room.ID, &room.Name, &room.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan room row: %w", err)
	}
	room.CreatedAt = time.Unix(createdAt, 0)
	return &room, nil
}

// ListRooms returns the rooms the user is a member of.
func (s *SQLiteStore) ListRooms(ctx context.Context, userID string) ([]*domain.Room, error) {
	query := `
		SELECT r.id, r.name, r.owner_id, r.created_at
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = ?
		ORDER BY r.id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer closeRows(rows, "rooms")

	var out []*domain.Room
	for rows.Next() {
		var room domain.Room
		var createdAt int64
		if err := rows.Scan(&room.ID, &room.Name, &room.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		room.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return out, nil
}

// ListMembers returns the members of a room.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID int64) ([]*domain.Member, error) {
	query := `
		SELECT u.user_id, u.username, m.joined_at
		FROM room_members m
		JOIN users u ON u.user_id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.joined_at`

	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer closeRows(rows, "members")

	var out []*domain.Member
	for rows.Next() {
		var member domain.Member
		var joinedAt int64
		if err := rows.Scan(&member.UserID, &member.Username, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		member.JoinedAt = time.Unix(joinedAt, 0)
		out = append(out, &member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

// IsMember reports whether the user belongs to the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID int64, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// AddMember adds a user to a room.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID int64, userID string) error {
	member, err := s.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if member {
		return ErrAlreadyMember
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		roomID, userID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// InsertMessage persists a message and fills in its ID and timestamp.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	now := time.Now()

	var userID interface{}
	if msg.UserID != "" {
		userID = msg.UserID
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO messages (room_id, user_id, username, content, is_bot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.RoomID, userID, msg.Username, msg.Content, msg.IsBot, now.Unix())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message insert id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// ListMessages returns up to limit most recent room messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_id, user_id, username, content, is_bot, created_at
		FROM messages WHERE room_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	var out []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var userID sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.RoomID, &userID, &msg.Username, &msg.Content, &msg.IsBot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.UserID = userID.String
		msg.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Flip newest-first query order into delivery order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListInventory returns the user's inventory items.
func (s *SQLiteStore) ListInventory(ctx context.Context, userID string) ([]*domain.InventoryItem, error) {
	query := `
		SELECT product_id, user_id, product_name, stock, safety_stock_level, updated_at
		FROM inventory WHERE user_id = ? ORDER BY product_name`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer closeRows(rows, "inventory")

	var out []*domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		var updatedAt int64
		if err := rows.Scan(&item.ProductID, &item.UserID, &item.ProductName, &item.Stock, &item.SafetyStock, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		item.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return out, nil
}

// SearchGroceryItems finds catalog entries relevant to a product name.
// Matching priority: title substring, then sub-category substring, then
// top-rated items as a final fallback.
func (s *SQLiteStore) SearchGroceryItems(ctx context.Context, productName string, limit int) ([]*domain.GroceryItem, error) {
	pattern := "%" + productName + "%"

	items, err := s.queryGroceryItems(ctx,
		`SELECT id, title, sub_category, price, rating FROM grocery_items
		 WHERE title LIKE ? COLLATE NOCASE LIMIT ?`, pattern, limit)
	if err != nil || len(items) > 0 {
		return items, err
	}

	items, err = s.queryGroceryItems(ctx,
		`SELECT id, title, sub_category, price, rating FROM grocery_items
		 WHERE sub_category LIKE ? COLLATE NOCASE LIMIT ?`, pattern, limit)
	if err != nil || len(items) > 0 {
		return items, err
	}

	return s.queryGroceryItems(ctx,
		`SELECT id, title, sub_category, price, rating FROM grocery_items
		 ORDER BY rating DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) queryGroceryItems(ctx context.Context, query string, args ...interface{}) ([]*domain.GroceryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grocery items: %w", err)
	}
	defer closeRows(rows, "grocery items")

	var out []*domain.GroceryItem
	for rows.Next() {
		var item domain.GroceryItem
		var rating sql.NullFloat64
		if err := rows.Scan(&item.ID, &item.Title, &item.SubCategory, &item.Price, &rating); err != nil {
			return nil, fmt.Errorf("scan grocery row: %w", err)
		}
		item.Rating = rating.Float64
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grocery items: %w", err)
	}
	return out, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}
