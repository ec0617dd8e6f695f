package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hushroom/hushroom/internal/models"
)

// SQLiteStore handles SQLite database operations. Used in development and
// single-node deployments; PostgresStore is the production store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/hushroom.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/hushroom.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		salt_b64 TEXT NOT NULL,
		kdf_iters INTEGER NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 1,
		admin_key_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		room_id TEXT NOT NULL,
		msg_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		iv_b64 TEXT NOT NULL,
		ciphertext_b64 TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (room_id, msg_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS name_claims (
		room_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		claimed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, display_name)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRoom inserts a new room record.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, title, salt_b64, kdf_iters, admin_key_hash, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, room.ID, room.Title, room.SaltB64, room.KDFIters, room.AdminKeyHash, now, now)
	if err != nil {
		if isSQLiteConstraint(err) {
			return nil, ErrRoomExists
		}
		return nil, err
	}
	return s.GetRoom(ctx, room.ID)
}

// GetRoom retrieves a room by slug. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, salt_b64, kdf_iters, epoch, admin_key_hash, created_at, last_active_at, message_count
		FROM rooms WHERE id = ?
	`, id).Scan(
		&room.ID,
		&room.Title,
		&room.SaltB64,
		&room.KDFIters,
		&room.Epoch,
		&room.AdminKeyHash,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// RotateRoomKey replaces salt and iteration count and bumps the epoch.
func (s *SQLiteStore) RotateRoomKey(ctx context.Context, id, saltB64 string, kdfIters int) (*models.Room, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET salt_b64 = ?, kdf_iters = ?, epoch = epoch + 1
		WHERE id = ?
	`, saltB64, kdfIters, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRoomNotFound
	}
	return s.GetRoom(ctx, id)
}

// UpdateRoomActivity bumps last_active_at and the message counter.
func (s *SQLiteStore) UpdateRoomActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_active_at = CURRENT_TIMESTAMP, message_count = message_count + 1
		WHERE id = ?
	`, id)
	return err
}

// CountRooms returns the total number of rooms.
func (s *SQLiteStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count)
	return count, err
}

// AppendMessage inserts a message. Returns ErrDuplicateMessage when the
// (room_id, msg_id) pair already exists.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, msg_id, epoch, created_at, iv_b64, ciphertext_b64, sender_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.RoomID, msg.MsgID, msg.Epoch, msg.CreatedAt, msg.IVB64, msg.CiphertextB64, msg.SenderName)
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// ListMessages returns up to limit messages for a room, newest first.
// A beforeTs of 0 means "from the latest".
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int, beforeTs int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, msg_id, epoch, created_at, iv_b64, ciphertext_b64, sender_name
		FROM messages
		WHERE room_id = ? AND (? = 0 OR created_at < ?)
		ORDER BY created_at DESC, msg_id DESC
		LIMIT ?
	`, roomID, beforeTs, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.RoomID, &m.MsgID, &m.Epoch, &m.CreatedAt, &m.IVB64, &m.CiphertextB64, &m.SenderName); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the total number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// InsertNameClaim records a claim unless the name is already claimed.
func (s *SQLiteStore) InsertNameClaim(ctx context.Context, claim *models.NameClaim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO name_claims (room_id, display_name, fingerprint, claimed_at)
		VALUES (?, ?, ?, ?)
	`, claim.RoomID, claim.DisplayName, claim.Fingerprint, claim.ClaimedAt)
	return err
}

// ListNameClaims returns all claims for a room.
func (s *SQLiteStore) ListNameClaims(ctx context.Context, roomID string) ([]models.NameClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, display_name, fingerprint, claimed_at
		FROM name_claims WHERE room_id = ?
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []models.NameClaim
	for rows.Next() {
		var c models.NameClaim
		if err := rows.Scan(&c.RoomID, &c.DisplayName, &c.Fingerprint, &c.ClaimedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
