package gateway

import (
	"github.com/MrWong99/improvbattle/internal/session"
)

// Overlay status values reported in [WireView.Status].
const (
	StatusActive   = "Active"
	StatusComplete = "Complete"
)

// WireView is the JSON representation of a session view. It adds the
// derived overlay fields a presentation layer renders directly.
type WireView struct {
	session.View

	// Status is [StatusComplete] once every round has started and
	// [StatusActive] before that.
	Status string `json:"status"`

	// MoodEmoji is the badge for the host's current mood.
	MoodEmoji string `json:"mood_emoji"`
}

// NewWireView derives the wire form of v.
func NewWireView(v session.View) WireView {
	status := StatusActive
	if v.State.Complete() {
		status = StatusComplete
	}
	return WireView{
		View:      v,
		Status:    status,
		MoodEmoji: v.State.HostMood.Emoji(),
	}
}

// createResponse is the body of POST /v1/sessions.
type createResponse struct {
	ID   string   `json:"id"`
	View WireView `json:"view"`
}

// messageRequest is the body of POST /v1/sessions/{id}/messages and the
// payload of a WebSocket "message" frame.
type messageRequest struct {
	Text      string `json:"text"`
	IsLocal   bool   `json:"is_local"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

// Client frame types accepted on the WebSocket.
const (
	frameMessage         = "message"
	frameReset           = "reset"
	frameContinue        = "continue"
	frameConnectionError = "connection_error"
)

// clientFrame is a frame sent by a WebSocket client.
type clientFrame struct {
	Type string `json:"type"`
	messageRequest
}

// Server frame types pushed on the WebSocket.
const (
	frameView  = "view"
	frameError = "error"
)

// serverFrame is a frame pushed to WebSocket clients.
type serverFrame struct {
	Type  string    `json:"type"`
	View  *WireView `json:"view,omitempty"`
	Error string    `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
