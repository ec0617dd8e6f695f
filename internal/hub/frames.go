package hub

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Frame types on the wire.
const (
	FrameTypeMessage = "message"
	FrameTypeError   = "error"
	FrameTypeEpoch   = "epoch"
)

// Error codes sent to clients in error frames.
const (
	CodeInvalidFormat = "invalid-format"
	CodeTooLarge      = "too-large"
	CodeRateLimited   = "rate-limited"
	CodeNameTaken     = "name-taken"
	CodeTooManyConns  = "too-many-connections"
	CodeStaleEpoch    = "stale-epoch"
)

const nonceSize = 12 // 96-bit AEAD nonce

var (
	ErrUnknownFrameType = errors.New("unknown frame type")

	// msgIdRe bounds the identifier charset; ULIDs fit, arbitrary bytes don't.
	msgIDRe = regexp.MustCompile(`^[0-9A-Za-z_-]{1,64}$`)
	// fingerprintRe matches base64 RawURL digests of a signing public key.
	fingerprintRe = regexp.MustCompile(`^[0-9A-Za-z_-]{8,64}$`)
)

// MessageFrame is a client message submission. Everything the server needs
// is plaintext metadata; the ciphertext stays opaque.
type MessageFrame struct {
	MsgID          string `json:"msgId"`
	Epoch          int64  `json:"epoch"`
	IVB64          string `json:"ivB64"`
	CiphertextB64  string `json:"ciphertextB64"`
	ClientTs       int64  `json:"clientTs"`
	SenderName     string `json:"senderName,omitempty"`
	KeyFingerprint string `json:"keyFingerprint,omitempty"`
}

// InboundFrame is the decoded tagged union of client frames: exactly one
// variant pointer is non-nil, matching Type.
type InboundFrame struct {
	Type    string
	Message *MessageFrame
}

// DecodeInbound parses a client frame into its variant. Unknown types and
// malformed JSON are errors; field-level validation happens in the
// admission pipeline.
func DecodeInbound(data []byte) (*InboundFrame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch head.Type {
	case FrameTypeMessage:
		var msg MessageFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed message frame: %w", err)
		}
		return &InboundFrame{Type: FrameTypeMessage, Message: &msg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, head.Type)
	}
}

// BroadcastFrame is the envelope relayed to every other live session.
type BroadcastFrame struct {
	Type          string `json:"type"`
	MsgID         string `json:"msgId"`
	Epoch         int64  `json:"epoch"`
	IVB64         string `json:"ivB64"`
	CiphertextB64 string `json:"ciphertextB64"`
	CreatedAt     int64  `json:"createdAt"`
	SenderName    string `json:"senderName"`
}

// ErrorFrame is an error reply to the offending sender only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EpochFrame announces a passphrase rotation to connected clients.
type EpochFrame struct {
	Type     string `json:"type"`
	Epoch    int64  `json:"epoch"`
	SaltB64  string `json:"salt"`
	KDFIters int    `json:"kdf_iters"`
}

func encodeError(code, message string) []byte {
	data, _ := json.Marshal(ErrorFrame{Type: FrameTypeError, Code: code, Message: message})
	return data
}

// validateMessage runs structural validation over a message frame. Returns
// an empty code when the frame is acceptable, otherwise the error code and
// a human-readable reason.
func validateMessage(f *MessageFrame, currentEpoch int64, maxCiphertext int) (code, reason string) {
	if !msgIDRe.MatchString(f.MsgID) {
		return CodeInvalidFormat, "msgId must be 1-64 chars of [0-9A-Za-z_-]"
	}
	if f.Epoch <= 0 {
		return CodeInvalidFormat, "epoch must be a positive integer"
	}
	if f.Epoch != currentEpoch {
		return CodeStaleEpoch, fmt.Sprintf("message epoch %d, room epoch %d", f.Epoch, currentEpoch)
	}

	iv, err := base64.StdEncoding.DecodeString(f.IVB64)
	if err != nil || len(iv) != nonceSize {
		return CodeInvalidFormat, "ivB64 must be a base64 96-bit nonce"
	}

	ct, err := base64.StdEncoding.DecodeString(f.CiphertextB64)
	if err != nil || len(ct) == 0 {
		return CodeInvalidFormat, "ciphertextB64 must be non-empty base64"
	}
	if len(ct) > maxCiphertext {
		return CodeTooLarge, fmt.Sprintf("ciphertext exceeds %d bytes", maxCiphertext)
	}

	if f.SenderName != "" && !validDisplayName(f.SenderName) {
		return CodeInvalidFormat, "senderName must be 1-50 printable characters"
	}
	if f.KeyFingerprint != "" && !fingerprintRe.MatchString(f.KeyFingerprint) {
		return CodeInvalidFormat, "keyFingerprint is not a valid key digest"
	}

	return "", ""
}

func validDisplayName(name string) bool {
	if name != strings.TrimSpace(name) || len(name) > 50 {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
