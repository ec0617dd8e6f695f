package models

import (
	"time"
)

// Room is a passphrase-scoped chat room. The server holds only the key
// derivation parameters (salt, iteration count) and the current key epoch;
// the passphrase itself never reaches the server.
type Room struct {
	ID           string    `json:"id"` // opaque slug, unique
	Title        string    `json:"title,omitempty"`
	SaltB64      string    `json:"salt"`
	KDFIters     int       `json:"kdf_iters"`
	Epoch        int64     `json:"epoch"` // starts at 1, only ever increases
	AdminKeyHash string    `json:"-"`     // bcrypt hash, empty when unset
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int64     `json:"message_count"`
}
