package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/metrics"
	"github.com/hushroom/hushroom/internal/models"
	"github.com/hushroom/hushroom/internal/store"
)

// Limits configures per-room abuse controls.
type Limits struct {
	MaxConnsPerIP      int
	MsgsPerWindow      int
	RateWindow         time.Duration
	MaxCiphertextBytes int
	AutoBlock          bool
}

// Hub is the registry of room coordinators. Each room is owned by exactly
// one actor goroutine at a time; the hub only maps room IDs to actors.
type Hub struct {
	store  store.DataStore
	cache  *store.RedisStore // optional
	logger zerolog.Logger
	limits Limits

	mu    sync.Mutex
	rooms map[string]*Room

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a hub. cache may be nil.
func New(ds store.DataStore, cache *store.RedisStore, logger zerolog.Logger, limits Limits) *Hub {
	return &Hub{
		store:  ds,
		cache:  cache,
		logger: logger,
		limits: limits,
		rooms:  make(map[string]*Room),
		stop:   make(chan struct{}),
	}
}

// Join admits a websocket connection into a room's coordinator, spawning
// the coordinator if the room has none running. On success the session's
// pumps are started and ownership of conn passes to them.
func (h *Hub) Join(meta *models.Room, conn *websocket.Conn, addr string) error {
	room := h.room(meta)

	sess := newSession(room, conn, addr)
	if err := room.join(sess); err != nil {
		return err
	}

	maxFrame := int64(h.limits.MaxCiphertextBytes) + 1024 // frame metadata headroom
	go sess.writePump()
	go sess.readPump(maxFrame)
	return nil
}

// RoomRotated informs a running coordinator that the room's passphrase was
// rotated. No-op when the room has no live coordinator; the next one reads
// fresh metadata at spawn.
func (h *Hub) RoomRotated(meta *models.Room) {
	h.mu.Lock()
	room, ok := h.rooms[meta.ID]
	h.mu.Unlock()
	if !ok {
		return
	}

	select {
	case room.events <- rotateNotice{epoch: meta.Epoch, saltB64: meta.SaltB64, kdfIters: meta.KDFIters}:
	case <-room.stopped:
	}
}

// ActiveRooms reports the number of live coordinators.
func (h *Hub) ActiveRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown stops all coordinators and waits for them to drain, up to the
// context's deadline.
func (h *Hub) Shutdown(ctx context.Context) error {
	close(h.stop)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) room(meta *models.Room) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[meta.ID]; ok {
		return r
	}

	r := newRoom(h, meta)
	h.rooms[meta.ID] = r
	h.wg.Add(1)
	metrics.RoomsActive.Inc()
	go r.run()
	return r
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, id)
}
