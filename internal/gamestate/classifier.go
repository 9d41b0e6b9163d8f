package gamestate

import (
	"slices"
	"strings"

	"github.com/MrWong99/improvbattle/pkg/types"
)

// DefaultHostName is the host name that counts as a trigger keyword when no
// other name is configured.
const DefaultHostName = "alex"

// baseTriggers switch a session into active-game mode. The host name is
// appended by [New].
var baseTriggers = []string{"improv", "scene", "character", "host", "round", "scenario", "performance"}

// Observer is notified with the names of the rules that fired for a message,
// in evaluation order. It is only called when at least one rule fired.
type Observer func(fired []string)

// Option is a functional option for [New].
type Option func(*Classifier)

// WithTotalRounds sets the round count used by [Classifier.Default].
// Non-positive values are ignored.
func WithTotalRounds(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.totalRounds = n
		}
	}
}

// WithHostName replaces the host-name trigger keyword. Empty names are
// ignored.
func WithHostName(name string) Option {
	return func(c *Classifier) {
		if name = strings.TrimSpace(name); name != "" {
			c.hostName = strings.ToLower(name)
		}
	}
}

// WithObserver installs an [Observer]. Passing nil removes it.
func WithObserver(o Observer) Option {
	return func(c *Classifier) {
		c.observer = o
	}
}

// Classifier bundles the rule table with per-game settings.
//
// A Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	totalRounds int
	hostName    string
	triggers    []string
	rules       []Rule
	observer    Observer
}

// New returns a [Classifier] using the built-in rule table. Defaults are
// [DefaultTotalRounds] rounds and [DefaultHostName] as the host name.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		totalRounds: DefaultTotalRounds,
		hostName:    DefaultHostName,
		rules:       Rules(),
	}
	for _, o := range opts {
		o(c)
	}
	c.triggers = append(slices.Clone(baseTriggers), c.hostName)
	return c
}

// Default returns the initial state for a new or restarted game.
func (c *Classifier) Default() State {
	return Default(c.totalRounds)
}

// TotalRounds returns the configured round count.
func (c *Classifier) TotalRounds() int {
	return c.totalRounds
}

// Triggers returns the active-game trigger keywords.
func (c *Classifier) Triggers() []string {
	return slices.Clone(c.triggers)
}

// IsTrigger reports whether text contains any trigger keyword,
// case-insensitively, as a plain substring.
func (c *Classifier) IsTrigger(text string) bool {
	if text == "" {
		return false
	}
	return containsAny(strings.ToLower(text), c.triggers...)
}

// Reduce returns the state that follows prev after msg. Local messages and
// messages matching no rule yield a state equal to prev. prev is never
// modified.
func (c *Classifier) Reduce(prev State, msg types.Message) State {
	if !msg.IsRemote() || msg.Text == "" {
		return prev
	}
	text := strings.ToLower(msg.Text)

	next := prev.Clone()
	var fired []string
	for _, r := range c.rules {
		if !r.Match(text) {
			continue
		}
		r.Apply(prev, &next, text)
		fired = append(fired, r.Name)
	}
	if len(fired) == 0 {
		return prev
	}
	if c.observer != nil {
		c.observer(fired)
	}
	return next
}

// Fold applies msgs to s in order and returns the final state.
func (c *Classifier) Fold(s State, msgs ...types.Message) State {
	for _, m := range msgs {
		s = c.Reduce(s, m)
	}
	return s
}

// Match returns the names of the rules msg would fire, without applying them.
// Local messages fire nothing.
func (c *Classifier) Match(msg types.Message) []string {
	if !msg.IsRemote() || msg.Text == "" {
		return nil
	}
	text := strings.ToLower(msg.Text)
	var names []string
	for _, r := range c.rules {
		if r.Match(text) {
			names = append(names, r.Name)
		}
	}
	return names
}

var defaultClassifier = New()

// Reduce applies msg to prev using the default classifier.
func Reduce(prev State, msg types.Message) State {
	return defaultClassifier.Reduce(prev, msg)
}
