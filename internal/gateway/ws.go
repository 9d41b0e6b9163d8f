package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/improvbattle/internal/observe"
	"github.com/MrWong99/improvbattle/internal/session"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// writeTimeout bounds a single WebSocket frame write.
const writeTimeout = 5 * time.Second

// handleWS streams views of one session. The current view is pushed on
// connect and again after every change. Client frames drive the session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := observe.WithSessionID(r.Context(), id)

	s.metrics.StreamOpened(ctx)
	defer s.metrics.StreamClosed(ctx)
	log := observe.Logger(ctx)
	log.Debug("view stream opened")

	// Latest wins: listeners run one at a time, so draining before the send
	// never races another producer.
	updates := make(chan session.View, 1)
	stop := sess.OnChange(func(v session.View) {
		select {
		case <-updates:
		default:
		}
		updates <- v
	})
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pushViews(gctx, conn, sess, updates)
	})
	g.Go(func() error {
		return s.readFrames(gctx, conn, id, sess)
	})
	err = g.Wait()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Debug("view stream closed by client")
		return
	case errors.Is(err, types.ErrSessionNotFound):
		conn.Close(websocket.StatusGoingAway, "session deleted")
	case err != nil && !errors.Is(err, context.Canceled):
		log.Warn("view stream failed", "err", err)
		conn.Close(websocket.StatusInternalError, "stream failed")
	case errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// pushViews writes the current and then every newer view until ctx is done
// or the session is deleted.
func (s *Server) pushViews(ctx context.Context, conn *websocket.Conn, sess *session.Session, updates <-chan session.View) error {
	initial := sess.View()
	if err := writeFrame(ctx, conn, viewFrame(initial)); err != nil {
		return err
	}
	last := initial.Version
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			// Close while readFrames still reads: cancelling its context
			// would drop the connection without a close frame.
			conn.Close(websocket.StatusGoingAway, "session deleted")
			return fmt.Errorf("%w: %s", types.ErrSessionNotFound, sess.ID())
		case v := <-updates:
			if v.Version <= last {
				continue
			}
			last = v.Version
			if err := writeFrame(ctx, conn, viewFrame(v)); err != nil {
				return err
			}
		}
	}
}

// readFrames applies client frames to the session until the connection
// closes. Malformed or unknown frames are answered with an error frame.
func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, id string, sess *session.Session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			if err := writeFrame(ctx, conn, errorFrame(fmt.Errorf("invalid frame: %w", err))); err != nil {
				return err
			}
			continue
		}

		switch f.Type {
		case frameMessage:
			if _, err := s.sessions.Append(ctx, id, f.message()); err != nil {
				return err
			}
		case frameReset:
			sess.Reset(ctx)
		case frameContinue:
			sess.Continue(ctx)
		case frameConnectionError:
			sess.NotifyConnectionError(ctx, session.SourceClient)
		default:
			if err := writeFrame(ctx, conn, errorFrame(fmt.Errorf("unknown frame type %q", f.Type))); err != nil {
				return err
			}
		}
	}
}

func viewFrame(v session.View) serverFrame {
	wv := NewWireView(v)
	return serverFrame{Type: frameView, View: &wv}
}

func errorFrame(err error) serverFrame {
	return serverFrame{Type: frameError, Error: err.Error()}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f serverFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}
