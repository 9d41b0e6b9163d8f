// Package gamestate implements the Improv Battle session-state inference
// engine: a pure reducer that folds each new remote transcript message into a
// bounded [State] projection.
//
// The projection is driven entirely by substring keyword matching on the
// lower-cased message text. There is no parsing and no natural-language
// understanding; a message that matches nothing leaves the state untouched.
//
// The engine is a single fold:
//
//	next := classifier.Reduce(prev, msg)
//
// Each step reads only the previous [State] and the new message and returns
// a fresh snapshot. [State] values are never mutated in place, so callers may
// keep old snapshots around.
package gamestate

import "slices"

// Phase is the coarse stage of an Improv Battle game.
type Phase string

const (
	PhaseIntro      Phase = "intro"
	PhasePerforming Phase = "performing"
	PhaseFeedback   Phase = "feedback"
	PhaseSummary    Phase = "summary"
)

// IsValid reports whether p is a recognised phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIntro, PhasePerforming, PhaseFeedback, PhaseSummary:
		return true
	}
	return false
}

// Mood is the host's current demeanour as inferred from the transcript.
type Mood string

const (
	MoodEnergetic    Mood = "energetic"
	MoodAmused       Mood = "amused"
	MoodCritical     Mood = "critical"
	MoodSurprised    Mood = "surprised"
	MoodImpressed    Mood = "impressed"
	MoodSkeptical    Mood = "skeptical"
	MoodEnthusiastic Mood = "enthusiastic"
)

// IsValid reports whether m is a recognised mood.
func (m Mood) IsValid() bool {
	switch m {
	case MoodEnergetic, MoodAmused, MoodCritical, MoodSurprised,
		MoodImpressed, MoodSkeptical, MoodEnthusiastic:
		return true
	}
	return false
}

// Emoji returns the overlay badge for m. Unknown moods get the theatre mask.
func (m Mood) Emoji() string {
	switch m {
	case MoodAmused:
		return "😄"
	case MoodCritical:
		return "🤔"
	case MoodSurprised:
		return "😲"
	case MoodImpressed:
		return "👏"
	case MoodSkeptical:
		return "🧐"
	case MoodEnthusiastic:
		return "🔥"
	case MoodEnergetic:
		return "⚡"
	}
	return "🎭"
}

const (
	// DefaultPlayerName is shown until the host welcomes the contestant by name.
	DefaultPlayerName = "Contestant"

	// DefaultTotalRounds is the number of rounds in a standard game.
	DefaultTotalRounds = 3

	// MaxPerformanceNotes bounds [State.PerformanceNotes].
	MaxPerformanceNotes = 3
)

// State is an immutable snapshot of the projected game state.
//
// Invariants:
//   - 0 <= CurrentRound <= TotalRounds
//   - 0 <= ScenariosCompleted <= TotalRounds
//   - len(PerformanceNotes) <= MaxPerformanceNotes, with no duplicates,
//     ordered oldest first.
type State struct {
	PlayerName         string   `json:"player_name"`
	CurrentRound       int      `json:"current_round"`
	TotalRounds        int      `json:"total_rounds"`
	ScenariosCompleted int      `json:"scenarios_completed"`
	HostMood           Mood     `json:"host_mood"`
	PerformanceNotes   []string `json:"performance_notes"`
	CurrentPhase       Phase    `json:"current_phase"`
}

// Default returns the initial state for a game of totalRounds rounds.
// Non-positive values fall back to [DefaultTotalRounds].
func Default(totalRounds int) State {
	if totalRounds <= 0 {
		totalRounds = DefaultTotalRounds
	}
	return State{
		PlayerName:         DefaultPlayerName,
		CurrentRound:       0,
		TotalRounds:        totalRounds,
		ScenariosCompleted: 0,
		HostMood:           MoodEnergetic,
		PerformanceNotes:   []string{},
		CurrentPhase:       PhaseIntro,
	}
}

// Equal reports whether s and o hold identical values.
func (s State) Equal(o State) bool {
	return s.PlayerName == o.PlayerName &&
		s.CurrentRound == o.CurrentRound &&
		s.TotalRounds == o.TotalRounds &&
		s.ScenariosCompleted == o.ScenariosCompleted &&
		s.HostMood == o.HostMood &&
		s.CurrentPhase == o.CurrentPhase &&
		slices.Equal(s.PerformanceNotes, o.PerformanceNotes)
}

// Complete reports whether every round has been started.
func (s State) Complete() bool {
	return s.CurrentRound >= s.TotalRounds
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.PerformanceNotes = slices.Clone(s.PerformanceNotes)
	if c.PerformanceNotes == nil {
		c.PerformanceNotes = []string{}
	}
	return c
}
