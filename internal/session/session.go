// Package session owns the per-session game projection: the current
// [gamestate.State], the one-way active-game latch and the expired flag.
//
// A [Session] consumes transcript snapshots (see [transcript.Log]) and folds
// every message it has not seen yet into its state, strictly in order. All
// writes go through one serialised apply path; readers take snapshots via
// [Session.View] or register change listeners with [Session.OnChange].
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/improvbattle/internal/gamestate"
	"github.com/MrWong99/improvbattle/internal/observe"
	"github.com/MrWong99/improvbattle/internal/transcript"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// Connection-error sources passed to [Session.NotifyConnectionError].
const (
	SourceClient   = "client"
	SourceWatchdog = "watchdog"
)

// View is a consistent snapshot of a session.
type View struct {
	State   gamestate.State `json:"state"`
	Active  bool            `json:"active"`
	Expired bool            `json:"expired"`

	// Version increases by one with every change, so consumers can drop
	// stale views.
	Version uint64 `json:"version"`
}

// Listener receives the new view after every change. Listeners run on the
// writer's goroutine, one at a time, in change order. They may call
// [Session.View] but must not call any other Session method.
type Listener func(View)

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics records message, reset and connection-error counts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithWatchdog kicks w on every remote message and whenever the session is
// reset or resumed.
func WithWatchdog(w *Watchdog) Option {
	return func(s *Session) {
		s.watchdog = w
	}
}

// Session is the state holder for one mounted game view.
//
// All methods are safe for concurrent use.
type Session struct {
	id         string
	classifier *gamestate.Classifier
	metrics    *observe.Metrics
	watchdog   *Watchdog

	// writeMu serialises the apply path including listener delivery. It is
	// always acquired before mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     gamestate.State
	active    bool
	expired   bool
	seen      int
	version   uint64
	listeners map[uint64]Listener
	nextID    uint64

	done      chan struct{}
	closeOnce sync.Once
}

// New returns a session with default state using classifier c.
func New(id string, c *gamestate.Classifier, opts ...Option) *Session {
	s := &Session{
		id:         id,
		classifier: c,
		state:      c.Default(),
		listeners:  make(map[uint64]Listener),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Close marks the session as discarded and closes [Session.Done]. Views
// stay readable. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed once the session has been discarded.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Seen returns how many transcript messages have been processed.
func (s *Session) Seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

func (s *Session) viewLocked() View {
	return View{
		State:   s.state.Clone(),
		Active:  s.active,
		Expired: s.expired,
		Version: s.version,
	}
}

// OnChange registers fn and returns a function that removes it.
func (s *Session) OnChange(fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Observe folds every message of snapshot beyond those already processed
// into the session. Snapshots not longer than what was already seen are
// ignored. Listeners are notified once if anything changed.
func (s *Session) Observe(ctx context.Context, snapshot []types.Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if len(snapshot) <= s.seen {
		s.mu.Unlock()
		return
	}
	pending := snapshot[s.seen:]
	s.seen = len(snapshot)

	changed := false
	remote := false
	for _, msg := range pending {
		s.metrics.RecordMessage(ctx, msg.IsLocal)
		if !s.active && s.classifier.IsTrigger(msg.Text) {
			s.active = true
			changed = true
			s.logger(ctx).Info("game activated")
		}
		if !msg.IsRemote() {
			continue
		}
		remote = true
		start := time.Now()
		next := s.classifier.Reduce(s.state, msg)
		s.metrics.RecordClassify(ctx, time.Since(start))
		if !next.Equal(s.state) {
			s.state = next
			changed = true
		}
	}
	s.commitLocked(changed)

	if remote && s.watchdog != nil {
		s.watchdog.Kick()
	}
}

// Run feeds snapshots from sub into [Session.Observe] until ctx is done or
// the subscription is closed.
func (s *Session) Run(ctx context.Context, sub *transcript.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			s.Observe(ctx, snap)
		}
	}
}

// Reset restores the default game state and clears the expired flag. The
// active-game latch is kept.
func (s *Session) Reset(ctx context.Context) View {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.state = s.classifier.Default()
	s.expired = false
	v := s.commitLocked(true)

	s.metrics.RecordReset(ctx)
	s.logger(ctx).Info("game reset")
	if s.watchdog != nil {
		s.watchdog.Kick()
	}
	return v
}

// Continue clears the expired flag and leaves the game state untouched.
func (s *Session) Continue(ctx context.Context) View {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changed := s.expired
	s.expired = false
	v := s.commitLocked(changed)

	if changed {
		s.metrics.RecordContinue(ctx)
		s.logger(ctx).Info("game continued")
	}
	if s.watchdog != nil {
		s.watchdog.Kick()
	}
	return v
}

// NotifyConnectionError marks the session expired. source names the
// reporter (see [SourceClient], [SourceWatchdog]). Repeated calls while
// already expired have no effect.
func (s *Session) NotifyConnectionError(ctx context.Context, source string) View {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changed := !s.expired
	s.expired = true
	v := s.commitLocked(changed)

	if changed {
		s.metrics.RecordConnectionError(ctx, source)
		s.logger(ctx).Warn("session expired", "source", source)
	}
	return v
}

// commitLocked bumps the version when changed, releases mu and delivers the
// resulting view to listeners. Callers must hold writeMu and mu; mu is
// released on return.
func (s *Session) commitLocked(changed bool) View {
	if !changed {
		v := s.viewLocked()
		s.mu.Unlock()
		return v
	}
	s.version++
	v := s.viewLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
	slog.Debug("session changed",
		"session_id", s.id,
		"version", v.Version,
		"round", v.State.CurrentRound,
		"phase", v.State.CurrentPhase,
		"active", v.Active,
		"expired", v.Expired,
	)
	return v
}

func (s *Session) logger(ctx context.Context) *slog.Logger {
	return observe.Logger(observe.WithSessionID(ctx, s.id))
}
