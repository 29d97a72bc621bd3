package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	tests := []struct {
		name string
		get  func(Config) any
		want any
	}{
		{"DataDir", func(c Config) any { return c.DataDir }, "."},
		{"StateFileName", func(c Config) any { return c.StateFileName }, "wireterm"},
		{"RPDisplayName", func(c Config) any { return c.RPDisplayName }, "Wireterm"},
		{"SessionTTL", func(c Config) any { return c.SessionTTL }, 30 * 24 * time.Hour},
		{"SessionRefreshThreshold", func(c Config) any { return c.SessionRefreshThreshold }, 24 * time.Hour},
		{"SetupTokenTTL", func(c Config) any { return c.SetupTokenTTL }, 7 * 24 * time.Hour},
		{"ChallengeTTL", func(c Config) any { return c.ChallengeTTL }, 60 * time.Second},
		{"LockoutMaxAttempts", func(c Config) any { return c.LockoutMaxAttempts }, 5},
		{"ListenAddr", func(c Config) any { return c.ListenAddr }, ":8080"},
	}

	cfg := DefaultConfig()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.get(cfg); got != tt.want {
				t.Errorf("DefaultConfig().%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDefaultConfigNoZeroValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("DataDir is empty")
	}
	if cfg.StateFileName == "" {
		t.Error("StateFileName is empty")
	}
	if cfg.SessionTTL == 0 {
		t.Error("SessionTTL is zero")
	}
	if cfg.LockoutMaxAttempts == 0 {
		t.Error("LockoutMaxAttempts is zero")
	}
}

func TestLoadOverlaysEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/wireterm-data")
	t.Setenv("SESSION_TTL_MS", "60000")
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "9")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg := Load()

	if cfg.DataDir != "/tmp/wireterm-data" {
		t.Errorf("DataDir = %q, want /tmp/wireterm-data", cfg.DataDir)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.SessionTTL != 60*time.Second {
		t.Errorf("SessionTTL = %v, want 60s", cfg.SessionTTL)
	}
	if cfg.LockoutMaxAttempts != 9 {
		t.Errorf("LockoutMaxAttempts = %d, want 9", cfg.LockoutMaxAttempts)
	}
}

func TestLoadIgnoresUnparsableEnv(t *testing.T) {
	t.Setenv("SESSION_TTL_MS", "not-a-number")
	cfg := Load()
	if cfg.SessionTTL != DefaultConfig().SessionTTL {
		t.Errorf("SessionTTL = %v, want default %v", cfg.SessionTTL, DefaultConfig().SessionTTL)
	}
	os.Unsetenv("SESSION_TTL_MS")
}
