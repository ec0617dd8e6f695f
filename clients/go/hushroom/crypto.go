// Package hushroom provides the client-side protocol for Hushroom rooms:
// passphrase key derivation, the authenticated message envelope, and sender
// identity signing with trust-on-first-use verification. The server only
// ever relays and stores what Encrypt produces.
package hushroom

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize   = 32
	nonceSize = 12
)

var (
	// ErrKeyDerivation means the salt or iteration parameters are unusable.
	// Fatal to the session attempting it.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrAuthentication means the ciphertext failed its integrity check:
	// wrong key, wrong epoch, wrong room/message binding, or tampering.
	// Per-message, never fatal to a connection.
	ErrAuthentication = errors.New("ciphertext authentication failed")

	// ErrDecoding means decryption succeeded but the plaintext is not a
	// well-formed payload. Shown as unreadable, not a security event.
	ErrDecoding = errors.New("malformed payload")
)

// Payload is the plaintext message structure sealed inside an envelope.
type Payload struct {
	Text            string `json:"text"`
	DisplayName     string `json:"displayName,omitempty"`
	ClientTs        int64  `json:"clientTs"`
	SignatureB64    string `json:"signatureB64,omitempty"`
	SenderPublicKey string `json:"senderPublicKey,omitempty"`
}

// Envelope is the sealed form submitted to and relayed by the server.
type Envelope struct {
	IVB64         string
	CiphertextB64 string
}

// DeriveKey derives the room's 256-bit symmetric key from a passphrase and
// the room's salt and iteration count using PBKDF2-SHA256. Deterministic:
// same inputs always yield the same key.
func DeriveKey(passphrase, saltB64 string, kdfIters int) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyDerivation)
	}
	if kdfIters <= 0 {
		return nil, fmt.Errorf("%w: iteration count must be positive", ErrKeyDerivation)
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 salt", ErrKeyDerivation)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrKeyDerivation)
	}

	return pbkdf2.Key([]byte(passphrase), salt, kdfIters, keySize, sha256.New), nil
}

// aad binds a ciphertext to its room, key epoch, and message identity. A
// sealed envelope cannot be replayed into another room, another epoch, or
// under another message id: any change breaks the tag check.
func aad(roomID string, epoch int64, msgID string) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s", roomID, epoch, msgID))
}

// Encrypt seals a payload with ChaCha20-Poly1305 under a fresh random
// 96-bit nonce, authenticated against the room/epoch/message binding.
func Encrypt(key []byte, roomID string, epoch int64, msgID string, p *Payload) (*Envelope, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, aad(roomID, epoch, msgID))

	return &Envelope{
		IVB64:         base64.StdEncoding.EncodeToString(nonce),
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens an envelope, recomputing the same room/epoch/message
// binding. Returns ErrAuthentication when the tag check fails and
// ErrDecoding when the recovered plaintext is not a payload.
func Decrypt(key []byte, roomID string, epoch int64, msgID, ivB64, ciphertextB64 string) (*Payload, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil || len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce encoding", ErrAuthentication)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrAuthentication)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad(roomID, epoch, msgID))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key, wrong epoch, or tampered ciphertext", ErrAuthentication)
	}

	p := &Payload{}
	if err := json.Unmarshal(plaintext, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return p, nil
}

// NewMsgID returns a fresh message identifier: lexically sortable, encodes
// creation time plus enough randomness to make collision negligible.
func NewMsgID() string {
	return ulid.Make().String()
}
