package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DefaultKDFIters != 250000 {
		t.Fatalf("expected default KDF iterations 250000, got %d", cfg.DefaultKDFIters)
	}
	if cfg.MsgsPerWindow != 30 || cfg.RateWindow != time.Minute {
		t.Fatalf("unexpected rate limit defaults: %d per %s", cfg.MsgsPerWindow, cfg.RateWindow)
	}
	if cfg.MaxCiphertextBytes != 8192 {
		t.Fatalf("expected 8192-byte ciphertext cap, got %d", cfg.MaxCiphertextBytes)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WS_MSGS_PER_WINDOW", "5")
	t.Setenv("WS_RATE_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")
	t.Setenv("AUTO_BLOCK_ENABLED", "true")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.MsgsPerWindow != 5 || cfg.RateWindow != 30*time.Second {
		t.Fatalf("unexpected rate limits: %d per %s", cfg.MsgsPerWindow, cfg.RateWindow)
	}
	if len(cfg.RateLimitWhitelist) != 2 || cfg.RateLimitWhitelist[1] != "10.0.0.2" {
		t.Fatalf("unexpected whitelist: %v", cfg.RateLimitWhitelist)
	}
	if !cfg.AutoBlockEnabled {
		t.Fatal("expected auto-block enabled")
	}
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("KDF_ITERS", "not-a-number")
	t.Setenv("WS_RATE_WINDOW", "-5s")

	cfg := Load()
	if cfg.DefaultKDFIters != 250000 {
		t.Fatalf("bad int should fall back to default, got %d", cfg.DefaultKDFIters)
	}
	if cfg.RateWindow != time.Minute {
		t.Fatalf("bad duration should fall back to default, got %s", cfg.RateWindow)
	}
}
