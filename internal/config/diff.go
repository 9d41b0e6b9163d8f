package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; listen address,
// TLS and telemetry settings need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GameChanged is true when total rounds or host name changed. Applies
	// to sessions created afterwards.
	GameChanged bool

	// SessionChanged is true when the connection timeout or session cap
	// changed.
	SessionChanged bool

	// PhoneticChanged is true when any phonetic normaliser setting changed.
	PhoneticChanged bool
}

// Any reports whether any hot-reloadable field changed.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.GameChanged || d.SessionChanged || d.PhoneticChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Game != new.Game {
		d.GameChanged = true
	}
	if old.Session != new.Session {
		d.SessionChanged = true
	}

	op, np := old.Transcript.Phonetic, new.Transcript.Phonetic
	if op.Enabled != np.Enabled || op.Threshold != np.Threshold || !slices.Equal(op.Vocabulary, np.Vocabulary) {
		d.PhoneticChanged = true
	}

	return d
}
