package gamestate

import (
	"regexp"
	"slices"
	"strings"
)

// Rule is one independent (predicate, transform) pair of the classifier.
//
// Match receives the lower-cased message text. Apply reads the fields it owns
// from prev and writes them to next; it must not read fields written by other
// rules. Both functions must be pure.
type Rule struct {
	Name  string
	Match func(text string) bool
	Apply func(prev State, next *State, text string)
}

// Rule names, in evaluation order.
const (
	RuleName     = "name"
	RuleRound    = "round"
	RuleScenario = "scenario"
	RuleMood     = "mood"
	RuleNote     = "note"
	RuleSummary  = "summary"
)

// moodKeywords is scanned in order; the first hit wins.
var moodKeywords = []Mood{
	MoodAmused, MoodCritical, MoodSurprised, MoodImpressed, MoodSkeptical, MoodEnthusiastic,
}

// noteKeywords gate the performance-note rule.
var noteKeywords = []string{"strong", "good", "excellent", "creative", "funny", "character"}

// cannedNotes are the only strings that can appear in
// [State.PerformanceNotes].
var cannedNotes = []string{
	"Strong character work",
	"Creative scenario handling",
	"Good comedic timing",
	"Excellent improvisation",
	"Funny moments",
	"Great energy",
}

// welcomePattern captures the first word token after "welcome". The lazy
// prefix means "welcome aboard, sam" captures "aboard", not "sam".
var welcomePattern = regexp.MustCompile(`(?i)welcome.*?(\w+)`)

// rules is the fixed evaluation order. Summary is last so it wins the phase
// when several phase-setting rules fire on one message.
var rules = []Rule{
	{
		Name: RuleName,
		Match: func(text string) bool {
			return strings.Contains(text, "welcome") && strings.Contains(text, "name")
		},
		Apply: func(_ State, next *State, text string) {
			m := welcomePattern.FindStringSubmatch(text)
			if len(m) > 1 && m[1] != "" {
				next.PlayerName = m[1]
			}
		},
	},
	{
		Name: RuleRound,
		Match: func(text string) bool {
			return strings.Contains(text, "round") &&
				(strings.Contains(text, "start") || strings.Contains(text, "next"))
		},
		Apply: func(prev State, next *State, _ string) {
			next.CurrentRound = min(prev.TotalRounds, prev.CurrentRound+1)
			next.CurrentPhase = PhasePerforming
		},
	},
	{
		Name: RuleScenario,
		Match: func(text string) bool {
			return containsAny(text, "react", "feedback", "comment") &&
				!strings.Contains(text, "next")
		},
		Apply: func(prev State, next *State, _ string) {
			next.ScenariosCompleted = min(prev.TotalRounds, prev.ScenariosCompleted+1)
			next.CurrentPhase = PhaseFeedback
		},
	},
	{
		Name: RuleMood,
		Match: func(text string) bool {
			_, ok := detectMood(text)
			return ok
		},
		Apply: func(_ State, next *State, text string) {
			if mood, ok := detectMood(text); ok {
				next.HostMood = mood
			}
		},
	},
	{
		Name: RuleNote,
		// Fires only when a gating keyword and a canned note are both present.
		Match: func(text string) bool {
			if !containsAny(text, noteKeywords...) {
				return false
			}
			_, ok := matchNote(text)
			return ok
		},
		Apply: func(prev State, next *State, text string) {
			note, ok := matchNote(text)
			if !ok || slices.Contains(prev.PerformanceNotes, note) {
				return
			}
			next.PerformanceNotes = appendNote(prev.PerformanceNotes, note)
		},
	},
	{
		Name: RuleSummary,
		Match: func(text string) bool {
			return containsAny(text, "summary", "final", "closing")
		},
		Apply: func(_ State, next *State, _ string) {
			next.CurrentPhase = PhaseSummary
		},
	},
}

// Rules returns a copy of the built-in rule table in evaluation order.
func Rules() []Rule {
	return slices.Clone(rules)
}

// CannedNotes returns the performance notes the note rule can emit.
func CannedNotes() []string {
	return slices.Clone(cannedNotes)
}

func detectMood(text string) (Mood, bool) {
	for _, m := range moodKeywords {
		if strings.Contains(text, string(m)) {
			return m, true
		}
	}
	return "", false
}

func matchNote(text string) (string, bool) {
	for _, n := range cannedNotes {
		if strings.Contains(text, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}

// appendNote returns a new slice with note appended and only the most recent
// MaxPerformanceNotes entries kept. notes is not modified.
func appendNote(notes []string, note string) []string {
	out := make([]string, 0, len(notes)+1)
	out = append(out, notes...)
	out = append(out, note)
	if n := len(out); n > MaxPerformanceNotes {
		out = out[n-MaxPerformanceNotes:]
	}
	return out
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
