package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls without [WithInterval].
const DefaultWatchInterval = 5 * time.Second

// stamp identifies one version of the config file on disk.
type stamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// sameFile reports whether the stat result still matches s, in which case
// the file is not re-read.
func (s stamp) sameFile(info os.FileInfo) bool {
	return info.ModTime().Equal(s.modTime) && info.Size() == s.size
}

// Watcher polls a config file and hands every valid new version to a
// callback. Editors that rewrite the file with identical content do not
// trigger the callback; invalid versions are logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    stamp

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file at path and returns a watcher holding it.
// onChange may be nil. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the config file until ctx is done or [Watcher.Stop] is called.
// It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// Stop stops a running watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := w.seen.sameFile(info)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	contentChanged := st.sum != w.seen.sum
	w.seen = st
	old := w.current
	if contentChanged {
		w.current = cfg
	}
	w.mu.Unlock()

	if !contentChanged {
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read parses the config file and stamps the bytes it parsed.
func (w *Watcher) read() (*Config, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, stamp{}, err
	}
	return cfg, stamp{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
