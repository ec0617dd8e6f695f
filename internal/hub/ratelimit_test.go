package hub

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(30, time.Minute)
	now := time.Now()

	for i := 0; i < 30; i++ {
		if !rl.Allow("10.0.0.1", now) {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1", now) {
		t.Fatal("31st message in the window should be rejected")
	}

	// Another address has its own window.
	if !rl.Allow("10.0.0.2", now) {
		t.Fatal("other address should be unaffected")
	}

	// A fresh window starts clean.
	if !rl.Allow("10.0.0.1", now.Add(time.Minute+time.Second)) {
		t.Fatal("message in the next window should be allowed")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	now := time.Now()

	rl.Allow("10.0.0.1", now)
	if rl.Allow("10.0.0.1", now) {
		t.Fatal("second message should be rejected")
	}

	rl.Forget("10.0.0.1")
	if !rl.Allow("10.0.0.1", now) {
		t.Fatal("forgotten address should start fresh")
	}
}
