// Package types defines the shared types exchanged between the transcript
// log, the session layer, and the gateway.
//
// These types are intentionally minimal. Each package defines its own domain
// types; only cross-cutting data structures live here to avoid import cycles.
package types

import "time"

// Message is a single chat message in a session transcript.
// Messages are immutable once appended to a transcript.
type Message struct {
	// Text is the message payload as delivered by the transport. It may be
	// empty, in which case it matches no classifier rule.
	Text string `json:"text" yaml:"text"`

	// RawText is the text as received before any normalisation. Empty when
	// no normaliser changed the message.
	RawText string `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`

	// IsLocal is true when the message was authored by the local participant
	// (the contestant) and false when it came from the remote host agent.
	IsLocal bool `json:"is_local" yaml:"is_local"`

	// SpeakerID identifies the speaker when the transport reports one.
	SpeakerID string `json:"speaker_id,omitempty" yaml:"speaker_id,omitempty"`

	// Timestamp is when the message was received. Zero when unknown.
	Timestamp time.Time `json:"timestamp,omitzero" yaml:"timestamp,omitempty"`
}

// IsRemote reports whether m originated from the remote host agent.
func (m Message) IsRemote() bool {
	return !m.IsLocal
}

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	// ID is the generated session identifier.
	ID string `json:"id"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// Messages is the current transcript length.
	Messages int `json:"messages"`
}
