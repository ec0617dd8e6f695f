package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Key derivation defaults handed to newly created rooms.
	DefaultKDFIters int

	// Per-room coordinator limits.
	MaxConnsPerIP      int           // live connections per source address per room
	MsgsPerWindow      int           // messages allowed per rate-limit window
	RateWindow         time.Duration // rate-limit window duration
	MaxCiphertextBytes int           // decoded ciphertext size cap

	// Abuse controls.
	RateLimitWhitelist []string // IPs exempt from blocking
	AutoBlockEnabled   bool     // block IPs after repeated rate-limit violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/hushroom.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		DefaultKDFIters:    getEnvInt("KDF_ITERS", 250000),
		MaxConnsPerIP:      getEnvInt("WS_MAX_CONNS_PER_IP", 8),
		MsgsPerWindow:      getEnvInt("WS_MSGS_PER_WINDOW", 30),
		RateWindow:         getEnvDuration("WS_RATE_WINDOW", time.Minute),
		MaxCiphertextBytes: getEnvInt("WS_MAX_CIPHERTEXT_BYTES", 8192),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require a real database
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
