package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/config"
	"github.com/hushroom/hushroom/internal/hub"
	"github.com/hushroom/hushroom/internal/store"
)

// Room slug validation: alphanumeric, hyphens, underscores, 1-50 chars.
var roomSlugRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.DataStore
	cache  *store.RedisStore // optional
	hub    *hub.Hub
	cfg    *config.Config
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(ds store.DataStore, cache *store.RedisStore, h *hub.Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{store: ds, cache: cache, hub: h, cfg: cfg, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
