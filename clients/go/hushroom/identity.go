package hushroom

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// TrustState classifies one message against the locally held trust table.
type TrustState string

const (
	// TrustUnsigned: no signature present. Legacy or anonymous sender.
	TrustUnsigned TrustState = "unsigned"
	// TrustNew: valid signature from a key seen for the first time under
	// this (room, display name); recorded now (trust on first use).
	TrustNew TrustState = "new"
	// TrustVerified: valid signature matching the recorded key.
	TrustVerified TrustState = "verified"
	// TrustMismatch: invalid signature, or a valid one from a key that
	// differs from the recorded owner. Surfaced, never silently accepted.
	TrustMismatch TrustState = "mismatch"
)

// GenerateSigningKeypair produces a fresh Ed25519 signing keypair.
func GenerateSigningKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519
// public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// signingPayload is the canonical byte form a sender signs. The text is
// hashed first so an embedded delimiter cannot shift field boundaries; the
// remaining fields have constrained charsets. Fixed order binds the
// signature to content, claimed author, client time, and message identity.
func signingPayload(text, displayName string, clientTs int64, msgID string) []byte {
	textHash := sha256.Sum256([]byte(text))
	return []byte(fmt.Sprintf("%x|%s|%d|%s", textHash, displayName, clientTs, msgID))
}

// Sign signs the canonical payload fields with the sender's private key.
func Sign(priv ed25519.PrivateKey, text, displayName string, clientTs int64, msgID string) string {
	sig := ed25519.Sign(priv, signingPayload(text, displayName, clientTs, msgID))
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a signature over the canonical payload fields.
func Verify(pubkeyB64, signatureB64, text, displayName string, clientTs int64, msgID string) error {
	pubkey, err := ValidatePublicKey(pubkeyB64)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pubkey, signingPayload(text, displayName, clientTs, msgID), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Fingerprint returns a stable short digest of a public key, used as the
// identity handle in the name-ownership ledger.
func Fingerprint(pubkeyB64 string) (string, error) {
	pubkey, err := ValidatePublicKey(pubkeyB64)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pubkey)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}

// TrustStore holds the local trust table mapping (room, display name) to
// the first-seen key fingerprint. The table is monotonic: entries are
// written once and never overwritten by a mismatching key.
type TrustStore struct {
	mu    sync.Mutex
	known map[string]string
}

// NewTrustStore creates an empty trust table.
func NewTrustStore() *TrustStore {
	return &TrustStore{known: make(map[string]string)}
}

// Classify evaluates one message against the trust table. Each message is
// judged independently; only a first valid sighting mutates the table.
func (t *TrustStore) Classify(roomID string, p *Payload, msgID string) TrustState {
	if p.SignatureB64 == "" || p.SenderPublicKey == "" {
		return TrustUnsigned
	}

	if err := Verify(p.SenderPublicKey, p.SignatureB64, p.Text, p.DisplayName, p.ClientTs, msgID); err != nil {
		return TrustMismatch
	}

	fp, err := Fingerprint(p.SenderPublicKey)
	if err != nil {
		return TrustMismatch
	}

	key := roomID + "/" + p.DisplayName

	t.mu.Lock()
	defer t.mu.Unlock()

	recorded, ok := t.known[key]
	if !ok {
		t.known[key] = fp
		return TrustNew
	}
	if recorded == fp {
		return TrustVerified
	}
	// Possible impersonation, or key rotation without re-introduction.
	return TrustMismatch
}

// Identity is a per-(room, display name) signing keypair.
type Identity struct {
	RoomID      string
	DisplayName string
	Public      ed25519.PublicKey
	Private     ed25519.PrivateKey
}

// PublicKeyB64 returns the base64 public key for embedding in payloads.
func (i *Identity) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(i.Public)
}

// Fingerprint returns the identity's key fingerprint.
func (i *Identity) Fingerprint() string {
	fp, _ := Fingerprint(i.PublicKeyB64())
	return fp
}

// LoadOrCreateIdentity loads the signing keypair for a (room, display name)
// from the config dir, generating and saving a fresh one on first use.
func LoadOrCreateIdentity(configDir, roomID, displayName string) (*Identity, error) {
	path := identityPath(configDir, roomID, displayName)

	if data, err := os.ReadFile(path); err == nil {
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("corrupt identity file %s", path)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return &Identity{
			RoomID:      roomID,
			DisplayName: displayName,
			Public:      priv.Public().(ed25519.PublicKey),
			Private:     priv,
		}, nil
	}

	pub, priv, err := GenerateSigningKeypair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(priv.Seed())
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, err
	}

	return &Identity{
		RoomID:      roomID,
		DisplayName: displayName,
		Public:      pub,
		Private:     priv,
	}, nil
}

// RemoveIdentity deletes the stored keypair for a (room, display name).
// Used when the server rejects the name as owned by a different key.
func RemoveIdentity(configDir, roomID, displayName string) error {
	err := os.Remove(identityPath(configDir, roomID, displayName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func identityPath(configDir, roomID, displayName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, displayName)
	return filepath.Join(configDir, "identities", roomID+"."+name+".key")
}
