package config_test

import (
	"log/slog"
	"testing"

	"github.com/MrWong99/improvbattle/internal/config"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Game.TotalRounds != 3 || cfg.Game.HostName != "alex" {
		t.Errorf("game = %+v", cfg.Game)
	}
	if cfg.Session.ConnectionTimeout != config.DefaultConnectionTimeout {
		t.Errorf("connection_timeout = %s", cfg.Session.ConnectionTimeout)
	}
	if cfg.Session.MaxSessions != config.DefaultMaxSessions {
		t.Errorf("max_sessions = %d", cfg.Session.MaxSessions)
	}
	if cfg.Transcript.Phonetic.Enabled {
		t.Error("phonetic normaliser enabled by default")
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level config.LogLevel
		valid bool
		slog  slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"verbose", false, slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.valid {
			t.Errorf("%q.IsValid() = %v, want %v", tc.level, got, tc.valid)
		}
		if got := tc.level.SlogLevel(); got != tc.slog {
			t.Errorf("%q.SlogLevel() = %v, want %v", tc.level, got, tc.slog)
		}
	}
}

func TestTLSConfig_Enabled(t *testing.T) {
	t.Parallel()

	if (config.TLSConfig{}).Enabled() {
		t.Error("empty TLS config reported enabled")
	}
	if !(config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}).Enabled() {
		t.Error("complete TLS config reported disabled")
	}
}
