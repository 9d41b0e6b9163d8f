package types

import "errors"

// Sentinel errors shared by the session manager and its transports. Match
// them with [errors.Is]; callers usually wrap them with the session ID.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many sessions")
	ErrShuttingDown    = errors.New("server is shutting down")
)
