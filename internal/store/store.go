package store

import (
	"context"
	"errors"

	"github.com/hushroom/hushroom/internal/models"
)

var (
	// ErrDuplicateMessage is returned by AppendMessage when (room_id, msg_id)
	// already exists. The coordinator treats this as a replay and drops the
	// write; the first accepted message stands.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrRoomExists is returned by CreateRoom when the slug is taken.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound is returned by mutations against an unknown room.
	ErrRoomNotFound = errors.New("room not found")
)

// DataStore defines the interface for persistent storage of rooms, messages,
// and name claims. Both PostgresStore and SQLiteStore implement this
// interface. There is no transactional coupling with broadcast: the
// coordinator fans out first and persists after.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations
	CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	// RotateRoomKey replaces the salt and iteration count and bumps the
	// epoch by one. Messages authored under older epochs stay stored but
	// become undecryptable to holders of only the new passphrase.
	RotateRoomKey(ctx context.Context, id, saltB64 string, kdfIters int) (*models.Room, error)
	UpdateRoomActivity(ctx context.Context, id string) error
	CountRooms(ctx context.Context) (int64, error)

	// Message operations
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID string, limit int, beforeTs int64) ([]models.Message, error)
	CountMessages(ctx context.Context) (int64, error)

	// Name-claim operations. InsertNameClaim is first-writer-wins: inserting
	// a claim for an already-claimed name is a no-op, never an overwrite.
	InsertNameClaim(ctx context.Context, claim *models.NameClaim) error
	ListNameClaims(ctx context.Context, roomID string) ([]models.NameClaim, error)
}
