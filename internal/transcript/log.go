// Package transcript holds the append-only chat transcript of a session and
// delivers it to consumers as a stream of snapshots.
//
// A [Log] is the transcript provider the session layer subscribes to. Every
// [Log.Append] produces a new snapshot: the full, ordered message prefix.
// Because each snapshot contains every message so far, a subscriber that
// falls behind only ever needs the most recent one; older pending snapshots
// are replaced rather than queued.
//
// An optional [Normalizer] rewrites message text before it is stored, e.g.
// to repair speech-to-text errors in the host's name.
package transcript

import (
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/improvbattle/pkg/types"
)

// ErrClosed is returned by [Log.Append] after [Log.Close].
var ErrClosed = errors.New("transcript: log is closed")

// Normalizer rewrites message text before it is appended to a [Log].
// Implementations must be safe for concurrent use.
type Normalizer interface {
	Normalize(text string) string
}

// Option is a functional option for [NewLog].
type Option func(*Log)

// WithNormalizer installs n as the log's normalisation stage. nil disables
// normalisation.
func WithNormalizer(n Normalizer) Option {
	return func(l *Log) {
		l.normalizer = n
	}
}

// Log is an append-only, ordered transcript. All methods are safe for
// concurrent use.
type Log struct {
	normalizer Normalizer

	mu       sync.Mutex
	messages []types.Message
	subs     map[*Subscription]struct{}
	closed   bool
}

// NewLog returns an empty [Log].
func NewLog(opts ...Option) *Log {
	l := &Log{subs: make(map[*Subscription]struct{})}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append adds msg to the end of the transcript, notifies all subscribers,
// and returns the new transcript length.
func (l *Log) Append(msg types.Message) (int, error) {
	if l.normalizer != nil && msg.Text != "" {
		if norm := l.normalizer.Normalize(msg.Text); norm != msg.Text {
			msg.RawText = msg.Text
			msg.Text = norm
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return len(l.messages), ErrClosed
	}
	l.messages = append(l.messages, msg)
	snap := slices.Clone(l.messages)
	for s := range l.subs {
		s.offer(snap)
	}
	return len(l.messages), nil
}

// Len returns the number of messages in the transcript.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Snapshot returns a copy of the transcript.
func (l *Log) Snapshot() []types.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}

// Subscribe registers a new subscriber. When the log is non-empty the
// current snapshot is delivered immediately. The returned subscription's
// channel is closed by [Subscription.Cancel] or [Log.Close].
func (l *Log) Subscribe() *Subscription {
	s := &Subscription{
		ch:  make(chan []types.Message, 1),
		log: l,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(s.ch)
		return s
	}
	l.subs[s] = struct{}{}
	if len(l.messages) > 0 {
		s.offer(slices.Clone(l.messages))
	}
	return s
}

// Close closes all subscriptions and rejects further appends. Safe to call
// multiple times.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for s := range l.subs {
		close(s.ch)
		delete(l.subs, s)
	}
}

func (l *Log) unsubscribe(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[s]; !ok {
		return
	}
	delete(l.subs, s)
	close(s.ch)
}

// Subscription delivers transcript snapshots. Only the latest undelivered
// snapshot is kept.
type Subscription struct {
	ch  chan []types.Message
	log *Log
}

// C returns the snapshot channel.
func (s *Subscription) C() <-chan []types.Message {
	return s.ch
}

// Cancel unregisters the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.log.unsubscribe(s)
}

// offer replaces any pending snapshot with snap. Must be called with the
// owning log's mutex held, which makes the drain-then-send sequence atomic
// with respect to other offers.
func (s *Subscription) offer(snap []types.Message) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}
