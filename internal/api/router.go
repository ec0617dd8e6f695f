package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/api/middleware"
	"github.com/hushroom/hushroom/internal/config"
	"github.com/hushroom/hushroom/internal/handlers"
	"github.com/hushroom/hushroom/internal/hub"
	"github.com/hushroom/hushroom/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, ds store.DataStore, cache *store.RedisStore, h *hub.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - room secrecy lives in the passphrase, not the origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Hushroom-Admin-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handler := handlers.NewHandler(ds, cache, h, cfg, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", handler.Root)
	r.Get("/health", handler.Health)
	r.Get("/stats", handler.Stats)

	r.Post("/rooms", handler.CreateRoom)
	r.Get("/rooms/{id}", handler.GetRoom)
	r.Post("/rooms/{id}/rotate", handler.RotateRoom)
	r.Get("/rooms/{id}/messages", handler.GetRoomMessages)
	r.Get("/rooms/{id}/ws", handler.ServeWS)

	return r
}
