package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/improvbattle/internal/config"
	"github.com/MrWong99/improvbattle/internal/gamestate"
	"github.com/MrWong99/improvbattle/internal/health"
	"github.com/MrWong99/improvbattle/internal/observe"
	"github.com/MrWong99/improvbattle/internal/session"
	"github.com/MrWong99/improvbattle/internal/transcript"
	"github.com/MrWong99/improvbattle/internal/transcript/phonetic"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// Sentinel errors, aliases of the shared values in [types].
var (
	// ErrSessionNotFound is returned for unknown or deleted session IDs.
	ErrSessionNotFound = types.ErrSessionNotFound

	// ErrTooManySessions is returned by [SessionManager.Create] when
	// session.max_sessions live sessions already exist.
	ErrTooManySessions = types.ErrTooManySessions

	// ErrManagerClosed is returned by [SessionManager.Create] after
	// [SessionManager.Close].
	ErrManagerClosed = types.ErrShuttingDown
)

// SessionInfo holds metadata about a live session.
type SessionInfo = types.SessionInfo

// managed bundles a session with its transcript and background goroutines.
type managed struct {
	sess      *session.Session
	log       *transcript.Log
	createdAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// settings is the per-session template derived from config. New sessions
// pick up the settings current at creation time.
type settings struct {
	classifier  *gamestate.Classifier
	normalizer  transcript.Normalizer
	timeout     time.Duration
	maxSessions int
}

// SessionManager owns all live sessions. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	metrics *observe.Metrics

	mu       sync.Mutex
	settings settings
	sessions map[string]*managed
	closed   bool
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// Config supplies game, session and transcript settings. Required.
	Config *config.Config

	// Metrics receives session, message and rule counters. May be nil.
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager from cfg.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		metrics:  cfg.Metrics,
		sessions: make(map[string]*managed),
	}
	sm.settings = sm.buildSettings(cfg.Config)
	return sm
}

// Apply updates the session template from cfg. Live sessions keep their
// classifier, normaliser and watchdog; the session cap applies immediately
// to further [SessionManager.Create] calls.
func (sm *SessionManager) Apply(cfg *config.Config) {
	s := sm.buildSettings(cfg)
	sm.mu.Lock()
	sm.settings = s
	sm.mu.Unlock()
	slog.Info("session settings updated",
		"total_rounds", cfg.Game.TotalRounds,
		"host_name", cfg.Game.HostName,
		"connection_timeout", cfg.Session.ConnectionTimeout,
		"max_sessions", cfg.Session.MaxSessions,
		"phonetic", cfg.Transcript.Phonetic.Enabled,
	)
}

func (sm *SessionManager) buildSettings(cfg *config.Config) settings {
	metrics := sm.metrics
	s := settings{
		classifier: gamestate.New(
			gamestate.WithTotalRounds(cfg.Game.TotalRounds),
			gamestate.WithHostName(cfg.Game.HostName),
			gamestate.WithObserver(func(fired []string) {
				metrics.RecordRuleMatches(context.Background(), fired)
			}),
		),
		timeout:     cfg.Session.ConnectionTimeout,
		maxSessions: cfg.Session.MaxSessions,
	}
	if p := cfg.Transcript.Phonetic; p.Enabled {
		vocab := append([]string{cfg.Game.HostName}, p.Vocabulary...)
		s.normalizer = phonetic.New(vocab, phonetic.WithThreshold(p.Threshold))
	}
	return s
}

// Create starts a new session with a fresh transcript. The session's
// background work is detached from ctx and runs until [SessionManager.Delete]
// or [SessionManager.Close].
func (sm *SessionManager) Create(ctx context.Context) (*session.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil, ErrManagerClosed
	}
	st := sm.settings
	if len(sm.sessions) >= st.maxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, st.maxSessions)
	}

	id := uuid.NewString()

	var logOpts []transcript.Option
	if st.normalizer != nil {
		logOpts = append(logOpts, transcript.WithNormalizer(st.normalizer))
	}
	log := transcript.NewLog(logOpts...)

	sessOpts := []session.Option{session.WithMetrics(sm.metrics)}
	if st.timeout > 0 {
		sessOpts = append(sessOpts, session.WithWatchdog(session.NewWatchdog(st.timeout)))
	}
	sess := session.New(id, st.classifier, sessOpts...)

	runCtx, cancel := context.WithCancel(observe.WithSessionID(context.WithoutCancel(ctx), id))
	m := &managed{
		sess:      sess,
		log:       log,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	sub := log.Subscribe()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer sub.Cancel()
		return sess.Run(gctx, sub)
	})
	g.Go(func() error {
		sess.RunWatchdog(gctx)
		return nil
	})
	go func() {
		defer close(m.done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			observe.Logger(runCtx).Error("session loop failed", "err", err)
		}
	}()

	sm.sessions[id] = m
	sm.metrics.SessionOpened(ctx)
	observe.Logger(runCtx).Info("session created",
		"total_rounds", st.classifier.TotalRounds(),
		"connection_timeout", st.timeout,
		"phonetic", st.normalizer != nil,
	)
	return sess, nil
}

// Get returns the session with the given ID.
func (sm *SessionManager) Get(id string) (*session.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	m, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m.sess, nil
}

// Info returns metadata for the session with the given ID.
func (sm *SessionManager) Info(id string) (SessionInfo, error) {
	sm.mu.Lock()
	m, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return SessionInfo{ID: id, CreatedAt: m.createdAt, Messages: m.log.Len()}, nil
}

// IDs returns the IDs of all live sessions in sorted order.
func (sm *SessionManager) IDs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Append adds msg to the session's transcript and folds it into the
// session before returning, so the returned view already reflects msg.
// A zero Timestamp is set to the current time.
func (sm *SessionManager) Append(ctx context.Context, id string, msg types.Message) (session.View, error) {
	sm.mu.Lock()
	m, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return session.View{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if _, err := m.log.Append(msg); err != nil {
		if errors.Is(err, transcript.ErrClosed) {
			return session.View{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return session.View{}, fmt.Errorf("app: append message: %w", err)
	}
	// The run loop sees the same snapshot later and skips it.
	m.sess.Observe(observe.WithSessionID(ctx, id), m.log.Snapshot())
	return m.sess.View(), nil
}

// Transcript returns a copy of the session's transcript.
func (sm *SessionManager) Transcript(id string) ([]types.Message, error) {
	sm.mu.Lock()
	m, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m.log.Snapshot(), nil
}

// Delete stops the session's background work and closes its transcript.
// It waits for the session goroutines to exit or ctx to be done.
func (sm *SessionManager) Delete(ctx context.Context, id string) error {
	sm.mu.Lock()
	m, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sm.stop(ctx, id, m)
}

func (sm *SessionManager) stop(ctx context.Context, id string, m *managed) error {
	m.cancel()
	m.log.Close()
	m.sess.Close()
	sm.metrics.SessionClosed(ctx)

	select {
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("app: stop session %s: %w", id, ctx.Err())
	}
	observe.Logger(observe.WithSessionID(ctx, id)).Info("session deleted",
		"messages", m.log.Len(),
		"lifetime", time.Since(m.createdAt).Round(time.Millisecond),
	)
	return nil
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Close deletes every session and rejects further [SessionManager.Create]
// calls. Safe to call multiple times.
func (sm *SessionManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	all := sm.sessions
	sm.sessions = make(map[string]*managed)
	sm.mu.Unlock()

	var errs []error
	for id, m := range all {
		if err := sm.stop(ctx, id, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CapacityChecker reports not ready while the manager is closed or at its
// session limit.
func (sm *SessionManager) CapacityChecker() health.Checker {
	return health.Checker{
		Name: "sessions",
		Check: func(context.Context) error {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if sm.closed {
				return ErrManagerClosed
			}
			if n, limit := len(sm.sessions), sm.settings.maxSessions; n >= limit {
				return fmt.Errorf("%d of %d sessions in use", n, limit)
			}
			return nil
		},
	}
}
