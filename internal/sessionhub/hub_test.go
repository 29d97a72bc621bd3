package sessionhub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func dialToken(t *testing.T, h *Hub, token string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(UpgradeHandler(h, token))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func TestHubRegistersConnectionUnderItsToken(t *testing.T) {
	h := newTestHub(t)
	dialToken(t, h, "session-1")

	time.Sleep(50 * time.Millisecond)
	if got := h.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestHubCountsMultipleSessionsAndConnections(t *testing.T) {
	tests := []struct {
		name      string
		tokens    []string
		wantCount int
	}{
		{name: "single connection", tokens: []string{"a"}, wantCount: 1},
		{name: "three distinct sessions", tokens: []string{"a", "b", "c"}, wantCount: 3},
		{name: "two connections same session", tokens: []string{"a", "a"}, wantCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t)
			for _, token := range tt.tokens {
				dialToken(t, h, token)
			}
			time.Sleep(50 * time.Millisecond)
			if got := h.Count(); got != tt.wantCount {
				t.Errorf("Count() = %d, want %d", got, tt.wantCount)
			}
		})
	}
}

func TestCloseSessionClosesOnlyThatTokensConnections(t *testing.T) {
	h := newTestHub(t)
	connA := dialToken(t, h, "session-a")
	dialToken(t, h, "session-b")
	time.Sleep(50 * time.Millisecond)

	h.CloseSession("session-a")
	time.Sleep(50 * time.Millisecond)

	if got := h.Count(); got != 1 {
		t.Errorf("Count() after CloseSession = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := connA.Read(ctx); err == nil {
		t.Errorf("session-a connection still open after CloseSession")
	}
}

func TestCloseSessionsClosesEveryListedToken(t *testing.T) {
	h := newTestHub(t)
	dialToken(t, h, "session-a")
	dialToken(t, h, "session-b")
	dialToken(t, h, "session-c")
	time.Sleep(50 * time.Millisecond)

	h.CloseSessions([]string{"session-a", "session-b"})
	time.Sleep(50 * time.Millisecond)

	if got := h.Count(); got != 1 {
		t.Errorf("Count() after CloseSessions = %d, want 1", got)
	}
}

func TestCloseSessionOnUnknownTokenIsNoOp(t *testing.T) {
	h := newTestHub(t)
	dialToken(t, h, "session-a")
	time.Sleep(50 * time.Millisecond)

	h.CloseSession("not-a-real-token")
	time.Sleep(50 * time.Millisecond)

	if got := h.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 (unaffected)", got)
	}
}

func TestHubStop(t *testing.T) {
	h := New()
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hub.Run() did not terminate after Stop()")
	}
}
