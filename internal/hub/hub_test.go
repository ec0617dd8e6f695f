package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/models"
	"github.com/hushroom/hushroom/internal/store"
)

// fakeStore is an in-memory DataStore for coordinator tests.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message // room/msgId
	claims   map[string]*models.NameClaim
	room     *models.Room
	appends  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string]*models.Message),
		claims:   make(map[string]*models.NameClaim),
	}
}

func (f *fakeStore) Close()                         {}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	return room, nil
}

func (f *fakeStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil || f.room.ID != id {
		return nil, nil
	}
	out := *f.room
	return &out, nil
}

func (f *fakeStore) RotateRoomKey(ctx context.Context, id, saltB64 string, kdfIters int) (*models.Room, error) {
	return nil, store.ErrRoomNotFound
}

func (f *fakeStore) UpdateRoomActivity(ctx context.Context, id string) error { return nil }

func (f *fakeStore) CountRooms(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	key := msg.RoomID + "/" + msg.MsgID
	if _, ok := f.messages[key]; ok {
		return store.ErrDuplicateMessage
	}
	f.messages[key] = msg
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, roomID string, limit int, beforeTs int64) ([]models.Message, error) {
	return nil, nil
}

func (f *fakeStore) CountMessages(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) InsertNameClaim(ctx context.Context, claim *models.NameClaim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := claim.RoomID + "/" + claim.DisplayName
	if _, ok := f.claims[key]; ok {
		return nil // first writer wins
	}
	f.claims[key] = claim
	return nil
}

func (f *fakeStore) ListNameClaims(ctx context.Context, roomID string) ([]models.NameClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NameClaim
	for _, c := range f.claims {
		if c.RoomID == roomID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) storedMessages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testLimits() Limits {
	return Limits{
		MaxConnsPerIP:      4,
		MsgsPerWindow:      100,
		RateWindow:         time.Minute,
		MaxCiphertextBytes: 8192,
	}
}

// newTestRoom builds a coordinator whose handlers are driven directly, no
// actor goroutine and no pumps.
func newTestRoom(t *testing.T, fs *fakeStore, limits Limits) *Room {
	t.Helper()
	h := New(fs, nil, zerolog.Nop(), limits)
	return newRoom(h, &models.Room{
		ID:       "kitchen",
		SaltB64:  "AAAA",
		KDFIters: 1000,
		Epoch:    1,
	})
}

func newTestSession(r *Room, addr string) *session {
	return &session{
		id:   uuid.Must(uuid.NewV7()),
		addr: addr,
		send: make(chan []byte, sendBuffer),
		room: r,
	}
}

func testMessageFrame(msgID string) *InboundFrame {
	return &InboundFrame{
		Type: FrameTypeMessage,
		Message: &MessageFrame{
			MsgID:         msgID,
			Epoch:         1,
			IVB64:         base64.StdEncoding.EncodeToString(make([]byte, nonceSize)),
			CiphertextB64: base64.StdEncoding.EncodeToString([]byte("ciphertext")),
			ClientTs:      time.Now().UnixMilli(),
		},
	}
}

// nextFrame pops one queued outbound frame, or nil when the buffer is empty.
func nextFrame(t *testing.T, s *session) map[string]any {
	t.Helper()
	select {
	case data := <-s.send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad outbound frame: %v", err)
		}
		return m
	default:
		return nil
	}
}

func expectErrorFrame(t *testing.T, s *session, code string) {
	t.Helper()
	frame := nextFrame(t, s)
	if frame == nil {
		t.Fatalf("expected %s error frame, got none", code)
	}
	if frame["type"] != FrameTypeError || frame["code"] != code {
		t.Fatalf("expected %s error frame, got %v", code, frame)
	}
}
