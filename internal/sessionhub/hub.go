// Package sessionhub tracks live WebSocket connections by the session
// token that authenticated them, and implements auth.SessionNotifier so
// AuthService can close those connections the moment a session ends.
// See SPEC_FULL.md §4.7.
package sessionhub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// conn wraps one upgraded WebSocket tied to a single session token.
type conn struct {
	token string
	ws    *websocket.Conn
	done  chan struct{}
	once  sync.Once
}

func (c *conn) close(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.ws.Close(status, reason)
		close(c.done)
	})
}

// Hub manages active WebSocket connections keyed by session token. All
// registration traffic flows through its Run loop; Hub itself holds no
// lock the caller needs to reason about.
type Hub struct {
	conns map[string]map[*conn]struct{} // token -> set of live conns

	register   chan *conn
	unregister chan *conn
	closeOne   chan string
	closeMany  chan []string
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

// New creates a Hub. Call Run in a goroutine before accepting connections.
func New() *Hub {
	return &Hub{
		conns:      make(map[string]map[*conn]struct{}),
		register:   make(chan *conn),
		unregister: make(chan *conn),
		closeOne:   make(chan string),
		closeMany:  make(chan []string),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It blocks until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			set, ok := h.conns[c.token]
			if !ok {
				set = make(map[*conn]struct{})
				h.conns[c.token] = set
			}
			set[c] = struct{}{}
			h.setCount(h.countLocked())

		case c := <-h.unregister:
			if set, ok := h.conns[c.token]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.conns, c.token)
				}
			}
			h.setCount(h.countLocked())

		case token := <-h.closeOne:
			h.closeToken(token)
			h.setCount(h.countLocked())

		case tokens := <-h.closeMany:
			for _, token := range tokens {
				h.closeToken(token)
			}
			h.setCount(h.countLocked())

		case <-h.done:
			return
		}
	}
}

// Stop signals the hub to stop its run loop.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) closeToken(token string) {
	set, ok := h.conns[token]
	if !ok {
		return
	}
	for c := range set {
		c.close(websocket.StatusNormalClosure, "session ended")
	}
	delete(h.conns, token)
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Count returns the number of live connections across every session.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Register adds conn to the hub under its session token. A no-op if the
// hub has already been stopped.
func (h *Hub) Register(c *conn) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes conn from the hub. A no-op if the hub has already
// been stopped.
func (h *Hub) Unregister(c *conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// CloseSession implements auth.SessionNotifier: it closes every live
// WebSocket registered under token.
func (h *Hub) CloseSession(token string) {
	select {
	case h.closeOne <- token:
	case <-h.done:
	}
}

// CloseSessions implements auth.SessionNotifier: it closes every live
// WebSocket registered under any of tokens, in one pass through the loop.
func (h *Hub) CloseSessions(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	select {
	case h.closeMany <- tokens:
	case <-h.done:
	}
}

// pumpIdleTimeout is how long a connection's read pump waits for a frame
// before treating the peer as gone. Keepalive pings should arrive well
// inside this window.
const pumpIdleTimeout = 60 * time.Second

// UpgradeHandler returns an HTTP handler that upgrades the request to a
// WebSocket and registers it under token for the lifetime of the
// connection. token must already have been validated by the caller (an
// outer middleware checking it against AuthService) before this handler
// runs; UpgradeHandler itself performs no authentication.
func UpgradeHandler(h *Hub, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Printf("sessionhub: upgrade failed: %v", err)
			return
		}

		c := &conn{token: token, ws: ws, done: make(chan struct{})}
		h.Register(c)
		defer h.Unregister(c)

		runPump(r.Context(), c)
	}
}

// runPump reads frames until the connection closes, the context is
// cancelled, or the hub force-closes it via CloseSession/CloseSessions.
// There is no application protocol here: any frame is treated as a
// keepalive and simply resets the idle timeout.
func runPump(ctx context.Context, c *conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		readCtx, readCancel := context.WithTimeout(ctx, pumpIdleTimeout)
		_, _, err := c.ws.Read(readCtx)
		readCancel()
		if err != nil {
			c.close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
