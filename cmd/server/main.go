package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/api"
	"github.com/hushroom/hushroom/internal/config"
	"github.com/hushroom/hushroom/internal/hub"
	"github.com/hushroom/hushroom/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Pick the data store: PostgreSQL when configured, SQLite otherwise
	var ds store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		ds = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		ds = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	defer ds.Close()

	// Optional Redis hot cache
	var cache *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		cache, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Room coordinator registry
	coordinator := hub.New(ds, cache, logger, hub.Limits{
		MaxConnsPerIP:      cfg.MaxConnsPerIP,
		MsgsPerWindow:      cfg.MsgsPerWindow,
		RateWindow:         cfg.RateWindow,
		MaxCiphertextBytes: cfg.MaxCiphertextBytes,
		AutoBlock:          cfg.AutoBlockEnabled,
	})

	// Create router
	router := api.NewRouter(logger, cfg, ds, cache, coordinator)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections write indefinitely
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting hushroom server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("coordinators did not drain in time")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
