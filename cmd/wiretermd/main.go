// Command wiretermd is the composition root for the authentication and
// session core: it wires config, the durable state store, the challenge
// and lockout trackers, the WebAuthn ceremony adapter, and the live
// session registry into one auth.Service, then exposes it behind a
// minimal HTTP mux. Routing, CSRF, CORS, and rate limiting for a public
// deployment are an outer layer's job, not this core's. See spec.md §1.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wireterm/wireterm/server/internal/auth"
	"github.com/wireterm/wireterm/server/internal/challenge"
	"github.com/wireterm/wireterm/server/internal/config"
	"github.com/wireterm/wireterm/server/internal/lockout"
	"github.com/wireterm/wireterm/server/internal/sessionhub"
	"github.com/wireterm/wireterm/server/internal/statestore"
	"github.com/wireterm/wireterm/server/internal/webauthnadapter"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.Load()
	log.Printf("wiretermd starting, data dir %s, rp id %s", cfg.DataDir, cfg.RPID)

	store, err := statestore.New(statestore.Options{
		DataDir:       cfg.DataDir,
		Name:          cfg.StateFileName,
		LockTimeoutMs: cfg.StateLockTimeout.Milliseconds(),
	})
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	challenges := challenge.New(cfg.ChallengeTTL)
	defer challenges.Close()

	lockouts := lockout.New(cfg.LockoutMaxAttempts, cfg.LockoutBaseBackoff, cfg.LockoutMaxBackoff)

	verifier := webauthnadapter.New()
	defer verifier.Close()

	hub := sessionhub.New()
	go hub.Run()
	defer hub.Stop()

	svc := auth.NewService(auth.Options{
		Store:                   store,
		Challenges:              challenges,
		Lockouts:                lockouts,
		Verifier:                verifier,
		Notifier:                hub,
		SessionTTL:              cfg.SessionTTL,
		SessionRefreshThreshold: cfg.SessionRefreshThreshold,
		SetupTokenTTL:           cfg.SetupTokenTTL,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, svc, cfg, hub)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()
	log.Printf("wiretermd listening on %s", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Println("wiretermd stopped")
}
