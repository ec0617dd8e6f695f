package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hushroom/hushroom/internal/models"
	"github.com/hushroom/hushroom/internal/store"
)

const saltBytes = 16

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	AdminKey string `json:"admin_key,omitempty"` // guards passphrase rotation
	KDFIters int    `json:"kdf_iters,omitempty"`
}

// RoomResponse is the public view of a room: everything a client needs to
// derive the key from a passphrase, nothing secret.
type RoomResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	SaltB64  string `json:"salt"`
	KDFIters int    `json:"kdf_iters"`
	Epoch    int64  `json:"epoch"`
}

func roomResponse(room *models.Room) RoomResponse {
	return RoomResponse{
		ID:       room.ID,
		Title:    room.Title,
		SaltB64:  room.SaltB64,
		KDFIters: room.KDFIters,
		Epoch:    room.Epoch,
	}
}

// CreateRoom handles room creation.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if !roomSlugRe.MatchString(req.ID) {
		h.Error(w, http.StatusBadRequest, "id must be 1-50 characters, alphanumeric with hyphens and underscores only")
		return
	}

	var adminKeyHash string
	if req.AdminKey != "" {
		if len(req.AdminKey) < 16 {
			h.Error(w, http.StatusBadRequest, "admin_key must be at least 16 characters")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminKey), bcrypt.DefaultCost)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to hash admin key")
			return
		}
		adminKeyHash = string(hash)
	}

	iters := req.KDFIters
	if iters <= 0 {
		iters = h.cfg.DefaultKDFIters
	}

	salt, err := newSalt()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate salt")
		return
	}

	room, err := h.store.CreateRoom(r.Context(), &models.Room{
		ID:           req.ID,
		Title:        strings.TrimSpace(req.Title),
		SaltB64:      salt,
		KDFIters:     iters,
		AdminKeyHash: adminKeyHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrRoomExists) {
			h.Error(w, http.StatusConflict, "room already exists")
			return
		}
		h.logger.Error().Err(err).Msg("room creation failed")
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusCreated, roomResponse(room))
}

// GetRoom returns room metadata: key derivation parameters and epoch.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, roomResponse(room))
}

// RotateRoom bumps the room's key epoch with a fresh salt, invalidating the
// old passphrase. Messages authored under earlier epochs stay stored but
// cannot be decrypted with the new passphrase.
func (h *Handler) RotateRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}

	if room.AdminKeyHash != "" {
		provided := r.Header.Get("X-Hushroom-Admin-Key")
		if provided == "" {
			h.Error(w, http.StatusForbidden, "admin key required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(room.AdminKeyHash), []byte(provided)); err != nil {
			h.Error(w, http.StatusForbidden, "invalid admin key")
			return
		}
	}

	var req struct {
		KDFIters int `json:"kdf_iters,omitempty"`
	}
	// Body is optional; ignore decode errors on empty bodies.
	_ = json.NewDecoder(r.Body).Decode(&req)

	iters := req.KDFIters
	if iters <= 0 {
		iters = room.KDFIters
	}

	salt, err := newSalt()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate salt")
		return
	}

	rotated, err := h.store.RotateRoomKey(r.Context(), room.ID, salt, iters)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room.ID).Msg("key rotation failed")
		h.Error(w, http.StatusInternalServerError, "failed to rotate room key")
		return
	}

	// Tell the live coordinator so connected clients learn the new epoch.
	h.hub.RoomRotated(rotated)

	h.JSON(w, http.StatusOK, roomResponse(rotated))
}

// MessagePage is the history retrieval response. Frames are returned newest
// first as stored ciphertext; decryption happens client-side.
type MessagePage struct {
	Room     RoomResponse     `json:"room"`
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// GetRoomMessages handles ciphertext history retrieval with pagination.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			before = n
		}
	}

	messages, err := h.fetchMessages(r, room.ID, limit+1, before)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room.ID).Msg("history fetch failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, MessagePage{
		Room:     roomResponse(room),
		Messages: messages,
		HasMore:  hasMore,
	})
}

// fetchMessages tries the Redis hot cache first and falls back to SQL when
// the cache is absent or cannot satisfy the request.
func (h *Handler) fetchMessages(r *http.Request, roomID string, limit int, before int64) ([]models.Message, error) {
	if h.cache != nil {
		cached, err := h.cache.RecentMessages(r.Context(), roomID, limit, before)
		if err == nil && len(cached) >= limit {
			return cached, nil
		}
	}
	return h.store.ListMessages(r.Context(), roomID, limit, before)
}

func (h *Handler) lookupRoom(w http.ResponseWriter, r *http.Request) (*models.Room, bool) {
	id := chi.URLParam(r, "id")
	if !roomSlugRe.MatchString(id) {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return nil, false
	}

	room, err := h.store.GetRoom(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("room", id).Msg("room lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return room, true
}

func newSalt() (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}
