package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hushroom/hushroom/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func testRoom(t *testing.T, s *SQLiteStore, id string) *models.Room {
	t.Helper()
	room, err := s.CreateRoom(context.Background(), &models.Room{
		ID:       id,
		Title:    "Test Room",
		SaltB64:  "AAAA",
		KDFIters: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return room
}

func TestCreateAndGetRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	room := testRoom(t, s, "kitchen")
	if room.Epoch != 1 {
		t.Fatalf("new room should start at epoch 1, got %d", room.Epoch)
	}

	got, err := s.GetRoom(ctx, "kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.SaltB64 != "AAAA" || got.KDFIters != 1000 {
		t.Fatalf("unexpected room: %+v", got)
	}

	missing, err := s.GetRoom(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("absent room should be (nil, nil), got %+v", missing)
	}
}

func TestCreateRoomDuplicate(t *testing.T) {
	s := testStore(t)
	testRoom(t, s, "kitchen")

	_, err := s.CreateRoom(context.Background(), &models.Room{
		ID: "kitchen", SaltB64: "BBBB", KDFIters: 1000,
	})
	if !errors.Is(err, ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}
}

func TestRotateRoomKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	testRoom(t, s, "kitchen")

	rotated, err := s.RotateRoomKey(ctx, "kitchen", "BBBB", 2000)
	if err != nil {
		t.Fatal(err)
	}
	if rotated.Epoch != 2 || rotated.SaltB64 != "BBBB" || rotated.KDFIters != 2000 {
		t.Fatalf("rotation not applied: %+v", rotated)
	}

	_, err = s.RotateRoomKey(ctx, "nope", "BBBB", 2000)
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAppendMessageDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	testRoom(t, s, "kitchen")

	msg := &models.Message{
		RoomID:        "kitchen",
		MsgID:         "ABC123",
		Epoch:         1,
		CreatedAt:     time.Now().UnixMilli(),
		IVB64:         "aXZpdml2aXZpdml2",
		CiphertextB64: "Y3Q=",
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, msg); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	n, err := s.CountMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one stored message, got %d", n)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	testRoom(t, s, "kitchen")

	base := int64(1700000000000)
	for i := 0; i < 5; i++ {
		err := s.AppendMessage(ctx, &models.Message{
			RoomID:        "kitchen",
			MsgID:         string(rune('A' + i)),
			Epoch:         1,
			CreatedAt:     base + int64(i)*1000,
			IVB64:         "aXZpdml2aXZpdml2",
			CiphertextB64: "Y3Q=",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.ListMessages(ctx, "kitchen", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page))
	}
	if page[0].MsgID != "E" || page[2].MsgID != "C" {
		t.Fatalf("expected newest first, got %s..%s", page[0].MsgID, page[2].MsgID)
	}

	older, err := s.ListMessages(ctx, "kitchen", 3, page[2].CreatedAt)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || older[0].MsgID != "B" {
		t.Fatalf("unexpected older page: %+v", older)
	}
}

func TestUpdateRoomActivity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	testRoom(t, s, "kitchen")

	if err := s.UpdateRoomActivity(ctx, "kitchen"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRoomActivity(ctx, "kitchen"); err != nil {
		t.Fatal(err)
	}

	room, _ := s.GetRoom(ctx, "kitchen")
	if room.MessageCount != 2 {
		t.Fatalf("expected message count 2, got %d", room.MessageCount)
	}
}

func TestNameClaimFirstWriterWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	testRoom(t, s, "kitchen")

	first := &models.NameClaim{
		RoomID: "kitchen", DisplayName: "alice",
		Fingerprint: "fingerprint-A", ClaimedAt: time.Now().UTC(),
	}
	if err := s.InsertNameClaim(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A later claim on the same name is silently ignored.
	second := &models.NameClaim{
		RoomID: "kitchen", DisplayName: "alice",
		Fingerprint: "fingerprint-B", ClaimedAt: time.Now().UTC(),
	}
	if err := s.InsertNameClaim(ctx, second); err != nil {
		t.Fatal(err)
	}

	claims, err := s.ListNameClaims(ctx, "kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 || claims[0].Fingerprint != "fingerprint-A" {
		t.Fatalf("first claim should stand: %+v", claims)
	}

	other, err := s.ListNameClaims(ctx, "pantry")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Fatalf("claims should be room-scoped: %+v", other)
	}
}
