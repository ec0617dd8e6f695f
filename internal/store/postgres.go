package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hushroom/hushroom/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations creates the schema if it does not exist.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		salt_b64 TEXT NOT NULL,
		kdf_iters INTEGER NOT NULL,
		epoch BIGINT NOT NULL DEFAULT 1,
		admin_key_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		message_count BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		room_id TEXT NOT NULL REFERENCES rooms(id),
		msg_id TEXT NOT NULL,
		epoch BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		iv_b64 TEXT NOT NULL,
		ciphertext_b64 TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (room_id, msg_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS name_claims (
		room_id TEXT NOT NULL REFERENCES rooms(id),
		display_name TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (room_id, display_name)
	);
	`

	_, err = conn.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRoom inserts a new room record.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	out := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, title, salt_b64, kdf_iters, admin_key_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, title, salt_b64, kdf_iters, epoch, admin_key_hash, created_at, last_active_at, message_count
	`, room.ID, room.Title, room.SaltB64, room.KDFIters, room.AdminKeyHash).Scan(
		&out.ID,
		&out.Title,
		&out.SaltB64,
		&out.KDFIters,
		&out.Epoch,
		&out.AdminKeyHash,
		&out.CreatedAt,
		&out.LastActiveAt,
		&out.MessageCount,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrRoomExists
		}
		return nil, err
	}
	return out, nil
}

// GetRoom retrieves a room by slug. Returns (nil, nil) when absent.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, salt_b64, kdf_iters, epoch, admin_key_hash, created_at, last_active_at, message_count
		FROM rooms WHERE id = $1
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// RotateRoomKey replaces salt and iteration count and bumps the epoch.
func (s *PostgresStore) RotateRoomKey(ctx context.Context, id, saltB64 string, kdfIters int) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		UPDATE rooms
		SET salt_b64 = $2, kdf_iters = $3, epoch = epoch + 1
		WHERE id = $1
		RETURNING id, title, salt_b64, kdf_iters, epoch, admin_key_hash, created_at, last_active_at, message_count
	`, id, saltB64, kdfIters).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// UpdateRoomActivity bumps last_active_at and the message counter.
func (s *PostgresStore) UpdateRoomActivity(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET last_active_at = now(), message_count = message_count + 1
		WHERE id = $1
	`, id)
	return err
}

// CountRooms returns the total number of rooms.
func (s *PostgresStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count)
	return count, err
}

// AppendMessage inserts a message. Returns ErrDuplicateMessage when the
// (room_id, msg_id) pair already exists.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (room_id, msg_id, epoch, created_at, iv_b64, ciphertext_b64, sender_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.RoomID, msg.MsgID, msg.Epoch, msg.CreatedAt, msg.IVB64, msg.CiphertextB64, msg.SenderName)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// ListMessages returns up to limit messages for a room, newest first.
// A beforeTs of 0 means "from the latest".
func (s *PostgresStore) ListMessages(ctx context.Context, roomID string, limit int, beforeTs int64) ([]models.Message, error) {
	query := `
		SELECT room_id, msg_id, epoch, created_at, iv_b64, ciphertext_b64, sender_name
		FROM messages
		WHERE room_id = $1 AND ($2 = 0 OR created_at < $2)
		ORDER BY created_at DESC, msg_id DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, roomID, beforeTs, limit)
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
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// InsertNameClaim records a claim unless the name is already claimed.
func (s *PostgresStore) InsertNameClaim(ctx context.Context, claim *models.NameClaim) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO name_claims (room_id, display_name, fingerprint, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, display_name) DO NOTHING
	`, claim.RoomID, claim.DisplayName, claim.Fingerprint, claim.ClaimedAt)
	return err
}

// ListNameClaims returns all claims for a room.
func (s *PostgresStore) ListNameClaims(ctx context.Context, roomID string) ([]models.NameClaim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id, display_name, fingerprint, claimed_at
		FROM name_claims WHERE room_id = $1
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

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
