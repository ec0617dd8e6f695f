package hushroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to a Hushroom server.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client
}

// RoomInfo is the server's public view of a room: key derivation parameters
// and the current epoch, no secrets.
type RoomInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	SaltB64  string `json:"salt"`
	KDFIters int    `json:"kdf_iters"`
	Epoch    int64  `json:"epoch"`
}

// StoredMessage is one ciphertext frame from the history endpoint.
type StoredMessage struct {
	MsgID         string `json:"msg_id"`
	Epoch         int64  `json:"epoch"`
	CreatedAt     int64  `json:"ts"`
	IVB64         string `json:"iv"`
	CiphertextB64 string `json:"ct"`
	SenderName    string `json:"sender,omitempty"`
}

// ServerError is an error frame or HTTP error reply from the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// NewClient creates a client for the given server.
func NewClient(baseURL string) *Client {
	configDir := os.Getenv("HUSHROOM_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".hushroom")
	}

	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateRoom creates a room. adminKey may be empty; when set it guards
// passphrase rotation.
func (c *Client) CreateRoom(ctx context.Context, id, title, adminKey string) (*RoomInfo, error) {
	body, _ := json.Marshal(map[string]string{
		"id":        id,
		"title":     title,
		"admin_key": adminKey,
	})

	var info RoomInfo
	if err := c.doJSON(ctx, http.MethodPost, "/rooms", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Room fetches room metadata.
func (c *Client) Room(ctx context.Context, id string) (*RoomInfo, error) {
	var info RoomInfo
	if err := c.doJSON(ctx, http.MethodGet, "/rooms/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// History fetches stored ciphertext frames, newest first. A beforeTs of 0
// starts from the latest.
func (c *Client) History(ctx context.Context, roomID string, limit int, beforeTs int64) ([]StoredMessage, error) {
	path := fmt.Sprintf("/rooms/%s/messages?limit=%d&before=%d", url.PathEscape(roomID), limit, beforeTs)

	var page struct {
		Messages []StoredMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &ServerError{Code: fmt.Sprintf("http-%d", resp.StatusCode), Message: errResp.Error}
	}

	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// RoomSession is a live end-to-end-encrypted connection to one room.
type RoomSession struct {
	client   *Client
	conn     *websocket.Conn
	info     RoomInfo
	key      []byte
	identity *Identity // nil when sending anonymously
	trust    *TrustStore
}

// Incoming is one received and processed broadcast frame.
type Incoming struct {
	MsgID      string
	CreatedAt  int64
	SenderName string
	Payload    *Payload   // nil when undecryptable
	Trust      TrustState // meaningful only when Payload != nil
	Err        error      // set when the frame could not be decrypted/decoded
}

// Join derives the room key from the passphrase and opens a websocket
// session. With a non-empty displayName, a per-(room, name) signing
// identity is loaded or created and every sent message is signed.
func (c *Client) Join(ctx context.Context, roomID, passphrase, displayName string) (*RoomSession, error) {
	info, err := c.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	key, err := DeriveKey(passphrase, info.SaltB64, info.KDFIters)
	if err != nil {
		return nil, err
	}

	var identity *Identity
	if displayName != "" {
		identity, err = LoadOrCreateIdentity(c.ConfigDir, roomID, displayName)
		if err != nil {
			return nil, err
		}
	}

	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) +
		"/rooms/" + url.PathEscape(roomID) + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	return &RoomSession{
		client:   c,
		conn:     conn,
		info:     *info,
		key:      key,
		identity: identity,
		trust:    NewTrustStore(),
	}, nil
}

// Info returns the room metadata the session is operating under.
func (s *RoomSession) Info() RoomInfo {
	return s.info
}

// Send encrypts, signs (when an identity is set), and submits a message.
// Returns the message id.
func (s *RoomSession) Send(text string) (string, error) {
	msgID := NewMsgID()
	clientTs := time.Now().UnixMilli()

	payload := &Payload{
		Text:     text,
		ClientTs: clientTs,
	}

	var senderName, fingerprint string
	if s.identity != nil {
		payload.DisplayName = s.identity.DisplayName
		payload.SignatureB64 = Sign(s.identity.Private, text, s.identity.DisplayName, clientTs, msgID)
		payload.SenderPublicKey = s.identity.PublicKeyB64()
		senderName = s.identity.DisplayName
		fingerprint = s.identity.Fingerprint()
	}

	env, err := Encrypt(s.key, s.info.ID, s.info.Epoch, msgID, payload)
	if err != nil {
		return "", err
	}

	frame := struct {
		Type           string `json:"type"`
		MsgID          string `json:"msgId"`
		Epoch          int64  `json:"epoch"`
		IVB64          string `json:"ivB64"`
		CiphertextB64  string `json:"ciphertextB64"`
		ClientTs       int64  `json:"clientTs"`
		SenderName     string `json:"senderName,omitempty"`
		KeyFingerprint string `json:"keyFingerprint,omitempty"`
	}{
		Type:           "message",
		MsgID:          msgID,
		Epoch:          s.info.Epoch,
		IVB64:          env.IVB64,
		CiphertextB64:  env.CiphertextB64,
		ClientTs:       clientTs,
		SenderName:     senderName,
		KeyFingerprint: fingerprint,
	}

	if err := s.conn.WriteJSON(frame); err != nil {
		return "", err
	}
	return msgID, nil
}

// Next blocks for the next server frame. Broadcast frames come back as
// Incoming; error frames come back as *ServerError. On a name-taken error
// the locally cached identity is discarded so a fresh name can be chosen.
// An epoch frame (passphrase rotation) returns a *ServerError with code
// "epoch-rotated": the session key is stale and the caller must re-join
// with the new passphrase.
func (s *RoomSession) Next() (*Incoming, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}

		switch head.Type {
		case "message":
			var frame struct {
				MsgID         string `json:"msgId"`
				Epoch         int64  `json:"epoch"`
				IVB64         string `json:"ivB64"`
				CiphertextB64 string `json:"ciphertextB64"`
				CreatedAt     int64  `json:"createdAt"`
				SenderName    string `json:"senderName"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			return s.open(frame.MsgID, frame.Epoch, frame.IVB64, frame.CiphertextB64, frame.CreatedAt, frame.SenderName), nil

		case "error":
			var frame struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if frame.Code == "name-taken" && s.identity != nil {
				_ = RemoveIdentity(s.client.ConfigDir, s.info.ID, s.identity.DisplayName)
				s.identity = nil
			}
			return nil, &ServerError{Code: frame.Code, Message: frame.Message}

		case "epoch":
			var frame struct {
				Epoch    int64  `json:"epoch"`
				SaltB64  string `json:"salt"`
				KDFIters int    `json:"kdf_iters"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			s.info.Epoch = frame.Epoch
			s.info.SaltB64 = frame.SaltB64
			s.info.KDFIters = frame.KDFIters
			return nil, &ServerError{Code: "epoch-rotated", Message: "room passphrase rotated, re-join with the new passphrase"}
		}
	}
}

// open decrypts and trust-classifies one broadcast frame.
func (s *RoomSession) open(msgID string, epoch int64, ivB64, ctB64 string, createdAt int64, senderName string) *Incoming {
	in := &Incoming{
		MsgID:      msgID,
		CreatedAt:  createdAt,
		SenderName: senderName,
	}

	payload, err := Decrypt(s.key, s.info.ID, epoch, msgID, ivB64, ctB64)
	if err != nil {
		in.Err = err
		return in
	}

	in.Payload = payload
	in.Trust = s.trust.Classify(s.info.ID, payload, msgID)
	return in
}

// Close shuts the websocket down.
func (s *RoomSession) Close() error {
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
