package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultConnectionTimeout is how long a session may go without hearing from
// the remote host before it is marked expired.
const DefaultConnectionTimeout = 200 * time.Second

// Watchdog fires when no [Watchdog.Kick] arrives within the timeout. After
// firing it stays quiet until the next kick re-arms it.
//
// Callers create a Watchdog, hand it to a session via [WithWatchdog], then
// call [Session.RunWatchdog] (or [Watchdog.Run]) in a goroutine.
type Watchdog struct {
	timeout time.Duration
	kick    chan struct{}
}

// NewWatchdog returns a watchdog with the given timeout. A non-positive
// timeout disables it: Run then only waits for its context.
func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		kick:    make(chan struct{}, 1),
	}
}

// Timeout returns the configured timeout.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Kick restarts the timer. Never blocks.
func (w *Watchdog) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
		// A kick is already pending.
	}
}

// Run arms the timer and calls expire every time it runs out. It returns
// when ctx is done.
func (w *Watchdog) Run(ctx context.Context, expire func()) {
	if w.timeout <= 0 {
		<-ctx.Done()
		return
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			timer.Reset(w.timeout)
		case <-timer.C:
			slog.Debug("watchdog timeout", "timeout", w.timeout)
			expire()
		}
	}
}

// RunWatchdog runs the session's watchdog until ctx is done, marking the
// session expired on every timeout. Returns immediately when the session has
// no watchdog.
func (s *Session) RunWatchdog(ctx context.Context) {
	if s.watchdog == nil {
		return
	}
	s.watchdog.Run(ctx, func() {
		s.NotifyConnectionError(ctx, SourceWatchdog)
	})
}
