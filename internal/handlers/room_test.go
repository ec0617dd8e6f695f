package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/config"
	"github.com/hushroom/hushroom/internal/hub"
	"github.com/hushroom/hushroom/internal/models"
	"github.com/hushroom/hushroom/internal/store"
)

// memStore is an in-memory DataStore for handler tests.
type memStore struct {
	mu       sync.Mutex
	rooms    map[string]*models.Room
	messages map[string][]models.Message
	claims   map[string][]models.NameClaim
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    make(map[string]*models.Room),
		messages: make(map[string][]models.Message),
		claims:   make(map[string][]models.NameClaim),
	}
}

func (m *memStore) Close()                         {}
func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; ok {
		return nil, store.ErrRoomExists
	}
	saved := *room
	saved.Epoch = 1
	saved.CreatedAt = time.Now().UTC()
	saved.LastActiveAt = saved.CreatedAt
	m.rooms[room.ID] = &saved
	out := saved
	return &out, nil
}

func (m *memStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	out := *room
	return &out, nil
}

func (m *memStore) RotateRoomKey(ctx context.Context, id, saltB64 string, kdfIters int) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	room.SaltB64 = saltB64
	room.KDFIters = kdfIters
	room.Epoch++
	out := *room
	return &out, nil
}

func (m *memStore) UpdateRoomActivity(ctx context.Context, id string) error { return nil }

func (m *memStore) CountRooms(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rooms)), nil
}

func (m *memStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], *msg)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, roomID string, limit int, beforeTs int64) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	msgs := m.messages[roomID]
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeTs == 0 || msgs[i].CreatedAt < beforeTs {
			out = append(out, msgs[i])
		}
	}
	return out, nil
}

func (m *memStore) CountMessages(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msgs := range m.messages {
		n += int64(len(msgs))
	}
	return n, nil
}

func (m *memStore) InsertNameClaim(ctx context.Context, claim *models.NameClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.claims[claim.RoomID] {
		if c.DisplayName == claim.DisplayName {
			return nil
		}
	}
	m.claims[claim.RoomID] = append(m.claims[claim.RoomID], *claim)
	return nil
}

func (m *memStore) ListNameClaims(ctx context.Context, roomID string) ([]models.NameClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.NameClaim(nil), m.claims[roomID]...), nil
}

func testHandler(t *testing.T) (*Handler, *memStore) {
	t.Helper()
	ms := newMemStore()
	cfg := &config.Config{DefaultKDFIters: 1000}
	logger := zerolog.Nop()
	coordinator := hub.New(ms, nil, logger, hub.Limits{
		MaxConnsPerIP:      4,
		MsgsPerWindow:      30,
		RateWindow:         time.Minute,
		MaxCiphertextBytes: 8192,
	})
	return NewHandler(ms, nil, coordinator, cfg, logger), ms
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/rooms", h.CreateRoom)
	r.Get("/rooms/{id}", h.GetRoom)
	r.Post("/rooms/{id}/rotate", h.RotateRoom)
	r.Get("/rooms/{id}/messages", h.GetRoomMessages)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoom(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/rooms",
		CreateRoomRequest{ID: "kitchen", Title: "The Kitchen"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp RoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "kitchen" || resp.Epoch != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.SaltB64 == "" || resp.KDFIters != 1000 {
		t.Fatalf("key parameters missing: %+v", resp)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	cases := []struct {
		name string
		req  CreateRoomRequest
		code int
	}{
		{"empty id", CreateRoomRequest{}, http.StatusBadRequest},
		{"bad slug", CreateRoomRequest{ID: "no spaces!"}, http.StatusBadRequest},
		{"slug too long", CreateRoomRequest{ID: fmt.Sprintf("%051d", 0)}, http.StatusBadRequest},
		{"short admin key", CreateRoomRequest{ID: "ok", AdminKey: "short"}, http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := doJSON(t, router, http.MethodPost, "/rooms", c.req, nil)
		if rec.Code != c.code {
			t.Fatalf("%s: expected %d, got %d", c.name, c.code, rec.Code)
		}
	}
}

func TestCreateRoomDuplicate(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	doJSON(t, router, http.MethodPost, "/rooms", CreateRoomRequest{ID: "kitchen"}, nil)
	rec := doJSON(t, router, http.MethodPost, "/rooms", CreateRoomRequest{ID: "kitchen"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGetRoom(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	doJSON(t, router, http.MethodPost, "/rooms", CreateRoomRequest{ID: "kitchen"}, nil)

	rec := doJSON(t, router, http.MethodGet, "/rooms/kitchen", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/rooms/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRotateRoom(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	var created RoomResponse
	rec := doJSON(t, router, http.MethodPost, "/rooms", CreateRoomRequest{ID: "kitchen"}, nil)
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, router, http.MethodPost, "/rooms/kitchen/rotate", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var rotated RoomResponse
	json.Unmarshal(rec.Body.Bytes(), &rotated)
	if rotated.Epoch != 2 {
		t.Fatalf("expected epoch 2, got %d", rotated.Epoch)
	}
	if rotated.SaltB64 == created.SaltB64 {
		t.Fatal("rotation should generate a fresh salt")
	}
}

func TestRotateRoomAdminKey(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	doJSON(t, router, http.MethodPost, "/rooms",
		CreateRoomRequest{ID: "kitchen", AdminKey: "a-long-enough-admin-key"}, nil)

	rec := doJSON(t, router, http.MethodPost, "/rooms/kitchen/rotate", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing key: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/rooms/kitchen/rotate", nil,
		map[string]string{"X-Hushroom-Admin-Key": "wrong-key-entirely-here"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/rooms/kitchen/rotate", nil,
		map[string]string{"X-Hushroom-Admin-Key": "a-long-enough-admin-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("correct key: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetRoomMessages(t *testing.T) {
	h, ms := testHandler(t)
	router := testRouter(h)

	doJSON(t, router, http.MethodPost, "/rooms", CreateRoomRequest{ID: "kitchen"}, nil)

	base := int64(1700000000000)
	for i := 0; i < 5; i++ {
		ms.AppendMessage(context.Background(), &models.Message{
			RoomID:        "kitchen",
			MsgID:         fmt.Sprintf("M%d", i),
			Epoch:         1,
			CreatedAt:     base + int64(i)*1000,
			IVB64:         "aXZpdml2aXZpdml2",
			CiphertextB64: "Y3Q=",
		})
	}

	rec := doJSON(t, router, http.MethodGet, "/rooms/kitchen/messages?limit=3", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var page MessagePage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("expected 3 messages with has_more, got %d (%v)", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].MsgID != "M4" {
		t.Fatalf("expected newest first, got %s", page.Messages[0].MsgID)
	}
	if page.Room.Epoch != 1 {
		t.Fatalf("page should carry room key parameters: %+v", page.Room)
	}

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/rooms/kitchen/messages?limit=3&before=%d", base+2000), nil, nil)
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Messages) != 2 || page.HasMore {
		t.Fatalf("unexpected older page: %d messages, has_more=%v", len(page.Messages), page.HasMore)
	}

	rec = doJSON(t, router, http.MethodGet, "/rooms/nope/messages", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	h, _ := testHandler(t)
	router := testRouter(h)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	doJSON(t, router, http.MethodPost, "/rooms", CreateRoomRequest{ID: "kitchen"}, nil)
	rec = doJSON(t, router, http.MethodGet, "/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRooms != 1 {
		t.Fatalf("expected 1 room, got %d", stats.TotalRooms)
	}
}
