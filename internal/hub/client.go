package hub

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping interval; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frame buffer per connection. A peer that cannot drain this
	// fast enough misses frames rather than stalling the room.
	sendBuffer = 64
)

// session is one live connection in a room. All fields except the send
// channel and conn are owned by the room actor; the pumps only move bytes.
type session struct {
	id          uuid.UUID
	addr        string // source address
	conn        *websocket.Conn
	send        chan []byte
	room        *Room
	connectedAt time.Time

	// Last identity accepted through the name-ownership check. Cleared by
	// the actor on a name conflict so the client must reselect.
	name        string
	fingerprint string
}

func newSession(room *Room, conn *websocket.Conn, addr string) *session {
	return &session{
		id:          uuid.Must(uuid.NewV7()),
		addr:        addr,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		room:        room,
		connectedAt: time.Now(),
	}
}

// trySend queues a frame without blocking. Returns false when the buffer is
// full; the frame is dropped for this peer only.
func (s *session) trySend(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// readPump reads frames from the connection and routes them into the room
// actor. Runs as its own goroutine; exits on any read error.
func (s *session) readPump(maxFrameBytes int64) {
	defer func() {
		s.room.leave(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := DecodeInbound(data)
		if err != nil {
			// Only the actor replies; it owns the send channel's lifetime.
			s.room.rejectFrame(s, err.Error())
			continue
		}

		s.room.submit(s, frame)
	}
}

// writePump drains the send channel to the connection and keeps the peer
// alive with pings. Exits when the actor closes the send channel.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
