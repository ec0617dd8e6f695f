package models

import (
	"time"
)

// NameClaim binds a display name to a signing-key fingerprint within a
// room. First writer wins; a claim is never overwritten by a differing
// fingerprint.
type NameClaim struct {
	RoomID      string    `json:"room_id"`
	DisplayName string    `json:"display_name"`
	Fingerprint string    `json:"fingerprint"`
	ClaimedAt   time.Time `json:"claimed_at"`
}
