package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// IMPROV_SERVER_LOG_LEVEL or IMPROV_GAME_TOTAL_ROUNDS.
const EnvPrefix = "IMPROV_"

// maxTotalRounds bounds game.total_rounds.
const maxTotalRounds = 100

// Load reads the YAML configuration file at path, applies defaults and
// IMPROV_* environment overrides, and returns the validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse is the full load pipeline shared by [Load] and [Watcher].
func parse(data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from IMPROV_* environment variables.
// Unset variables leave the corresponding field untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: apply env: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: cert_file and key_file must be set together"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	for i, o := range cfg.Server.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] is empty", i))
		}
	}

	// Game
	if cfg.Game.TotalRounds < 1 || cfg.Game.TotalRounds > maxTotalRounds {
		errs = append(errs, fmt.Errorf("game.total_rounds %d is out of range [1, %d]", cfg.Game.TotalRounds, maxTotalRounds))
	}
	if strings.TrimSpace(cfg.Game.HostName) == "" {
		errs = append(errs, errors.New("game.host_name is required"))
	} else if strings.ContainsFunc(cfg.Game.HostName, unicode.IsSpace) {
		errs = append(errs, fmt.Errorf("game.host_name %q must be a single word", cfg.Game.HostName))
	}

	// Session
	if cfg.Session.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("session.max_sessions %d must be at least 1", cfg.Session.MaxSessions))
	}

	// Transcript
	if t := cfg.Transcript.Phonetic.Threshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic.threshold %.2f is out of range (0, 1]", t))
	}
	for i, w := range cfg.Transcript.Phonetic.Vocabulary {
		if strings.TrimSpace(w) == "" || strings.ContainsFunc(w, unicode.IsSpace) {
			errs = append(errs, fmt.Errorf("transcript.phonetic.vocabulary[%d] %q must be a single word", i, w))
		}
	}

	return errors.Join(errs...)
}
