package models

// Message is a stored chat message. The server sees only ciphertext; text
// and any signature travel inside the sealed payload. Once written a
// message is immutable.
type Message struct {
	RoomID        string `json:"room_id"`
	MsgID         string `json:"msg_id"` // ULID: lexically sortable, time + randomness
	Epoch         int64  `json:"epoch"`  // room epoch active when authored
	CreatedAt     int64  `json:"ts"`     // server-assigned, Unix ms
	IVB64         string `json:"iv"`     // 96-bit nonce
	CiphertextB64 string `json:"ct"`
	SenderName    string `json:"sender,omitempty"` // plaintext metadata, server-visible
}
