// Package config provides the configuration schema and loader for the
// Improv Battle session service.
//
// Configuration is read from a YAML file and may be overridden field by
// field with IMPROV_* environment variables (see [ApplyEnv]).
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the corresponding [slog.Level]. Unknown values map to
// [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultLogLevel          = LogInfo
	DefaultTotalRounds       = 3
	DefaultHostName          = "alex"
	DefaultConnectionTimeout = 200 * time.Second
	DefaultMaxSessions       = 100
	DefaultPhoneticThreshold = 0.80
	DefaultShutdownTimeout   = 15 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Game       GameConfig       `yaml:"game" envPrefix:"GAME_"`
	Session    SessionConfig    `yaml:"session" envPrefix:"SESSION_"`
	Transcript TranscriptConfig `yaml:"transcript" envPrefix:"TRANSCRIPT_"`
	Observe    ObserveConfig    `yaml:"observe" envPrefix:"OBSERVE_"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`

	// TLS enables HTTPS when both paths are set.
	TLS TLSConfig `yaml:"tls" envPrefix:"TLS_"`

	// AllowedOrigins lists host patterns (path.Match syntax) accepted for
	// cross-origin WebSocket connections. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file" env:"KEY_FILE"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// GameConfig tunes the state classifier. Changes apply to sessions created
// after a reload.
type GameConfig struct {
	// TotalRounds is the number of rounds in one game.
	TotalRounds int `yaml:"total_rounds" env:"TOTAL_ROUNDS"`

	// HostName is the host's name; it counts as a game trigger keyword.
	HostName string `yaml:"host_name" env:"HOST_NAME"`
}

// SessionConfig bounds session lifetime and count.
type SessionConfig struct {
	// ConnectionTimeout marks a session expired when the host stays silent
	// this long. A negative value disables the watchdog.
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`

	// MaxSessions caps concurrently live sessions.
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
}

// TranscriptConfig configures transcript preprocessing.
type TranscriptConfig struct {
	Phonetic PhoneticConfig `yaml:"phonetic" envPrefix:"PHONETIC_"`
}

// PhoneticConfig configures the phonetic normaliser that repairs misheard
// vocabulary before classification.
type PhoneticConfig struct {
	// Enabled turns the normaliser on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Vocabulary lists extra single words to repair. The host name is
	// always included when the normaliser is enabled.
	Vocabulary []string `yaml:"vocabulary" env:"VOCABULARY"`

	// Threshold is the minimum Jaro-Winkler similarity for a replacement.
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
}

// ObserveConfig configures telemetry export.
type ObserveConfig struct {
	// ServiceName is reported in traces and metrics.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`

	// OTLPEndpoint is the OTLP/HTTP traces URL. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Game.TotalRounds == 0 {
		cfg.Game.TotalRounds = DefaultTotalRounds
	}
	if cfg.Game.HostName == "" {
		cfg.Game.HostName = DefaultHostName
	}
	if cfg.Session.ConnectionTimeout == 0 {
		cfg.Session.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = DefaultMaxSessions
	}
	if cfg.Transcript.Phonetic.Threshold == 0 {
		cfg.Transcript.Phonetic.Threshold = DefaultPhoneticThreshold
	}
}

// Default returns a config with every field at its default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
