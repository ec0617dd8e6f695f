package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint. Counts are
// server-visible aggregates only; no message content exists to report.
type StatsResponse struct {
	TotalRooms       int64 `json:"total_rooms"`
	TotalMessages    int64 `json:"total_messages"`
	ActiveRoomActors int   `json:"active_rooms"`
}

// Stats returns service statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalRooms, err := h.store.CountRooms(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count rooms")
		return
	}

	totalMessages, err := h.store.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalRooms:       totalRooms,
		TotalMessages:    totalMessages,
		ActiveRoomActors: h.hub.ActiveRooms(),
	})
}
