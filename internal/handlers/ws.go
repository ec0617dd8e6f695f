package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hushroom/hushroom/internal/api/middleware"
	"github.com/hushroom/hushroom/internal/hub"
	"github.com/hushroom/hushroom/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients connect from anywhere; room secrecy comes from the passphrase,
	// not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and hands it to the room's coordinator.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}

	addr := middleware.RealIP(r)
	if h.cache != nil && !h.isWhitelisted(addr) && h.cache.IsBlocked(r.Context(), addr) {
		metrics.ConnectionsRejected.WithLabelValues("blocked").Inc()
		h.Error(w, http.StatusForbidden, "temporarily blocked")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn().Err(err).Str("addr", addr).Msg("websocket upgrade failed")
		return
	}

	if err := h.hub.Join(room, conn, addr); err != nil {
		code := "internal-error"
		if errors.Is(err, hub.ErrTooManyConnections) {
			code = hub.CodeTooManyConns
		}
		conn.WriteJSON(hub.ErrorFrame{Type: hub.FrameTypeError, Code: code, Message: err.Error()})
		conn.Close()
		return
	}
}

func (h *Handler) isWhitelisted(addr string) bool {
	for _, entry := range h.cfg.RateLimitWhitelist {
		if entry == addr {
			return true
		}
	}
	return false
}
