package main

import (
	"encoding/json"
	"net/http"

	"github.com/wireterm/wireterm/server/internal/auth"
	"github.com/wireterm/wireterm/server/internal/config"
	"github.com/wireterm/wireterm/server/internal/sessionhub"
)

// registerRoutes wires the minimal HTTP surface this composition root
// exposes to prove the pieces above it fit together: a health check and
// the session-bound WebSocket upgrade. The full passkey ceremony
// endpoints (begin/finish registration and login, credential and setup
// token management) and their request/response envelopes, CSRF
// protection, and CORS policy belong to a public-facing router and are
// out of scope here; each maps directly onto one auth.Service method
// and a JSON codec for its Options/Result payloads.
func registerRoutes(mux *http.ServeMux, svc *auth.Service, cfg config.Config, hub *sessionhub.Hub) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"rp_id":         cfg.RPID,
			"live_sessions": hub.Count(),
		})
	})

	// The token here is taken from the query string purely so this
	// minimal root has something to register in the hub; a real
	// deployment authenticates the token against svc before ever
	// reaching websocket.Accept.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		sessionhub.UpgradeHandler(hub, token)(w, r)
	})
}
