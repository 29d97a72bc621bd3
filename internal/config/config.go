// Package config holds the environment-driven settings for the auth core.
//
// Flag parsing, .env handling, and logger setup belong to the outer CLI;
// this package only defines the knobs the core itself reads and how they
// default.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the settings consumed by the auth core.
type Config struct {
	// DataDir is the directory holding the state file and its lockfile.
	DataDir string
	// StateFileName is the "<name>" prefix of "<name>-auth.json".
	StateFileName string

	// RPDisplayName and RPID configure the WebAuthn relying party.
	RPDisplayName string
	RPID          string
	RPOrigins     []string

	// ListenAddr is the address the outer HTTP server binds, used only by
	// cmd/wiretermd's composition root — the auth core itself has no
	// notion of a listen address.
	ListenAddr string

	SessionTTL              time.Duration
	SessionRefreshThreshold time.Duration
	SetupTokenTTL           time.Duration
	ChallengeTTL            time.Duration
	StateLockTimeout        time.Duration

	LockoutMaxAttempts int
	LockoutBaseBackoff time.Duration
	LockoutMaxBackoff  time.Duration
}

// DefaultConfig returns a Config with the defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		DataDir:       ".",
		StateFileName: "wireterm",

		RPDisplayName: "Wireterm",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8080"},
		ListenAddr:    ":8080",

		SessionTTL:              30 * 24 * time.Hour,
		SessionRefreshThreshold: 24 * time.Hour,
		SetupTokenTTL:           7 * 24 * time.Hour,
		ChallengeTTL:            60 * time.Second,
		StateLockTimeout:        5 * time.Second,

		LockoutMaxAttempts: 5,
		LockoutBaseBackoff: 30 * time.Second,
		LockoutMaxBackoff:  time.Hour,
	}
}

// Load overlays environment variables onto DefaultConfig(). Missing or
// unparsable values fall back to the default silently — the outer CLI is
// responsible for surfacing configuration mistakes to the operator.
func Load() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STATE_FILE_NAME"); v != "" {
		cfg.StateFileName = v
	}
	if v := os.Getenv("RP_ID"); v != "" {
		cfg.RPID = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	cfg.SessionTTL = durationMs(cfg.SessionTTL, "SESSION_TTL_MS")
	cfg.SessionRefreshThreshold = durationMs(cfg.SessionRefreshThreshold, "SESSION_REFRESH_THRESHOLD_MS")
	cfg.SetupTokenTTL = durationMs(cfg.SetupTokenTTL, "SETUP_TOKEN_TTL_MS")
	cfg.ChallengeTTL = durationMs(cfg.ChallengeTTL, "CHALLENGE_TTL_MS")
	cfg.StateLockTimeout = durationMs(cfg.StateLockTimeout, "STATE_LOCK_TIMEOUT_MS")
	cfg.LockoutBaseBackoff = durationMs(cfg.LockoutBaseBackoff, "LOCKOUT_BASE_BACKOFF_MS")
	cfg.LockoutMaxBackoff = durationMs(cfg.LockoutMaxBackoff, "LOCKOUT_MAX_BACKOFF_MS")

	if v := os.Getenv("LOCKOUT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockoutMaxAttempts = n
		}
	}

	return cfg
}

func durationMs(fallback time.Duration, env string) time.Duration {
	v := os.Getenv(env)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
