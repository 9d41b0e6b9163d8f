// Package gateway exposes sessions over HTTP JSON and WebSocket.
//
// Routes:
//
//	POST   /v1/sessions                        create a session
//	GET    /v1/sessions                        list sessions
//	GET    /v1/sessions/{id}                   current view
//	DELETE /v1/sessions/{id}                   delete a session
//	GET    /v1/sessions/{id}/transcript        transcript so far
//	POST   /v1/sessions/{id}/messages          append a transcript message
//	POST   /v1/sessions/{id}/reset             restart the game
//	POST   /v1/sessions/{id}/continue          resume after expiry
//	POST   /v1/sessions/{id}/connection-error  mark the session expired
//	GET    /v1/sessions/{id}/ws                live view stream
//
// Health and metrics endpoints are mounted on the same mux when configured.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/improvbattle/internal/health"
	"github.com/MrWong99/improvbattle/internal/observe"
	"github.com/MrWong99/improvbattle/internal/session"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Sessions is the session store the gateway serves. *app.SessionManager
// implements it.
type Sessions interface {
	Create(ctx context.Context) (*session.Session, error)
	Get(id string) (*session.Session, error)
	IDs() []string
	Info(id string) (types.SessionInfo, error)
	Delete(ctx context.Context, id string) error
	Append(ctx context.Context, id string, msg types.Message) (session.View, error)
	Transcript(id string) ([]types.Message, error)
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Sessions is required.
	Sessions Sessions

	// Metrics records HTTP and stream metrics. May be nil.
	Metrics *observe.Metrics

	// Health mounts /healthz and /readyz when non-nil.
	Health *health.Handler

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler

	// AllowedOrigins are host patterns accepted for cross-origin WebSocket
	// handshakes. Same-origin requests are always accepted.
	AllowedOrigins []string
}

// Server implements the gateway routes.
type Server struct {
	sessions Sessions
	metrics  *observe.Metrics
	origins  []string
	handler  http.Handler
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	s := &Server{
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		origins:  cfg.AllowedOrigins,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDelete)
	mux.HandleFunc("GET /v1/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /v1/sessions/{id}/continue", s.handleContinue)
	mux.HandleFunc("POST /v1/sessions/{id}/connection-error", s.handleConnectionError)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWS)

	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		ID:   sess.ID(),
		View: NewWireView(sess.View()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	ids := s.sessions.IDs()
	infos := make([]types.SessionInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.sessions.Info(id)
		if err != nil {
			// Deleted since IDs was taken.
			continue
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string][]types.SessionInfo{"sessions": infos})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewWireView(sess.View()))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.sessions.Transcript(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string][]types.Message{"messages": msgs})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id := r.PathValue("id")
	v, err := s.sessions.Append(r.Context(), id, req.message())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, NewWireView(v))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, sess *session.Session) session.View {
		return sess.Reset(ctx)
	})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, sess *session.Session) session.View {
		return sess.Continue(ctx)
	})
}

func (s *Server) handleConnectionError(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, sess *session.Session) session.View {
		return sess.NotifyConnectionError(ctx, session.SourceClient)
	})
}

// withSession resolves the {id} path value and writes the view returned by
// fn with status 200.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(context.Context, *session.Session) session.View) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	v := fn(observe.WithSessionID(r.Context(), id), sess)
	writeJSON(w, http.StatusOK, NewWireView(v))
}

func (m messageRequest) message() types.Message {
	return types.Message{
		Text:      m.Text,
		IsLocal:   m.IsLocal,
		SpeakerID: m.SpeakerID,
	}
}

// decodeJSON decodes exactly one JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
