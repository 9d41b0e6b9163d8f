// Package app wires the Improv Battle subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the session manager,
// health checks and HTTP gateway and binds the listener, Run serves until
// its context is done, and Shutdown tears everything down in order.
//
// For testing, inject a listener, metrics or a log level holder via
// functional options. When an option is not provided, New falls back to the
// config and the global OpenTelemetry providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/improvbattle/internal/config"
	"github.com/MrWong99/improvbattle/internal/gateway"
	"github.com/MrWong99/improvbattle/internal/health"
	"github.com/MrWong99/improvbattle/internal/observe"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the session server.
type App struct {
	cfg *config.Config

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	listener       net.Listener

	configPath     string
	reloadInterval time.Duration
	watcher        *config.Watcher

	sessions *SessionManager
	health   *health.Handler
	gateway  *gateway.Server
	server   *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets configuration reloads change the log level held by lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithConfigReload watches the config file at path and applies
// hot-reloadable changes. interval <= 0 uses the watcher default.
func WithConfigReload(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.reloadInterval = interval
	}
}

// New creates an App from cfg and binds its listener.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:  cfg,
		Metrics: a.metrics,
	})
	a.health = health.New(a.sessions.CapacityChecker())
	a.gateway = gateway.New(gateway.Config{
		Sessions:       a.sessions,
		Metrics:        a.metrics,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	a.server = &http.Server{
		Handler:           a.gateway,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.reloadInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.reloadInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	if a.listener == nil {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", cfg.Server.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("app: listen on %s: %w", cfg.Server.ListenAddr, err)
		}
		a.listener = ln
	}

	slog.Info("app initialised",
		"addr", a.listener.Addr().String(),
		"tls", cfg.Server.TLS.Enabled(),
		"max_sessions", cfg.Session.MaxSessions,
		"config_reload", a.watcher != nil,
	)
	return a, nil
}

// Addr returns the address the server listens on.
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Run serves HTTP and watches the config file until ctx is done or serving
// fails. On return the HTTP server no longer accepts requests; call
// [App.Shutdown] to release sessions.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Request contexts, and with them open WebSocket streams, end with Run.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls.Enabled() {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: stop http server: %w", err)
		}
		return nil
	})

	slog.Info("server listening", "addr", a.listener.Addr().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown stops the config watcher and HTTP server and deletes every
// session. It is safe to call multiple times; later calls return the first
// result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.health.SetDraining(true)

		var errs []error
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: stop http server: %w", err))
		}
		// Serve closes the listener itself; this covers an App that never ran.
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("app: close listener: %w", err))
		}
		n := a.sessions.Len()
		if err := a.sessions.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		slog.Info("app shut down", "sessions_closed", n)
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// applyConfig is the config watcher callback. Only hot-reloadable settings
// are applied; the rest need a restart.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GameChanged || d.SessionChanged || d.PhoneticChanged {
		a.sessions.Apply(new)
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.TLS != new.Server.TLS || old.Observe != new.Observe {
		slog.Warn("config change needs a restart to take effect",
			"listen_addr", new.Server.ListenAddr,
			"tls", new.Server.TLS.Enabled(),
		)
	}
	if !d.Any() {
		slog.Debug("config reloaded without hot-reloadable changes")
	}
}
