package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// syncBuffer makes zerolog output safe to read while the server's handler
// goroutine may still be writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func lastLogEntry(t *testing.T, buf *syncBuffer) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		data := bytes.TrimSpace(buf.Bytes())
		if len(data) > 0 {
			lines := bytes.Split(data, []byte("\n"))
			var entry map[string]any
			if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
				t.Fatalf("unmarshal log entry: %v", err)
			}
			return entry
		}
		if time.Now().After(deadline) {
			t.Fatal("no log entry written")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoggerCollapsesRoomSlug(t *testing.T) {
	var buf syncBuffer
	logger := zerolog.New(&buf)

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/rooms/kitchen-talk/messages", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := lastLogEntry(t, &buf)
	if entry["path"] != "/rooms/:id/messages" {
		t.Fatalf("expected collapsed room slug, got path %q", entry["path"])
	}
	if entry["status"].(float64) != http.StatusOK {
		t.Fatalf("expected status 200, got %v", entry["status"])
	}
	if _, ok := entry["websocket"]; ok {
		t.Fatal("plain request should not carry the websocket flag")
	}
}

func TestLoggerMarksHijackedUpgrade(t *testing.T) {
	var buf syncBuffer
	logger := zerolog.New(&buf)

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		conn.Close()
	}))

	srv := httptest.NewServer(h)
	defer srv.Close()

	// The handler tears the connection down without a response, so the
	// client side is expected to error.
	http.Get(srv.URL + "/rooms/kitchen-talk/ws")

	entry := lastLogEntry(t, &buf)
	if entry["status"].(float64) != http.StatusSwitchingProtocols {
		t.Fatalf("expected status 101 for hijacked request, got %v", entry["status"])
	}
	if entry["websocket"] != true {
		t.Fatal("hijacked request should carry the websocket flag")
	}
	if entry["path"] != "/rooms/:id/ws" {
		t.Fatalf("expected collapsed room slug, got path %q", entry["path"])
	}
}
