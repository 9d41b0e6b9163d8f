package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/improvbattle/internal/app"
	"github.com/MrWong99/improvbattle/internal/config"
	"github.com/MrWong99/improvbattle/internal/gamestate"
	"github.com/MrWong99/improvbattle/internal/gateway"
	"github.com/MrWong99/improvbattle/internal/health"
	"github.com/MrWong99/improvbattle/internal/session"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type testEnv struct {
	srv      *httptest.Server
	sessions *app.SessionManager
}

// newEnv starts a gateway backed by a real session manager. The watchdog is
// disabled unless mutate enables it.
func newEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Session.ConnectionTimeout = -1
	if mutate != nil {
		mutate(cfg)
	}
	sm := app.NewSessionManager(app.SessionManagerConfig{Config: cfg})
	t.Cleanup(func() { _ = sm.Close(context.Background()) })

	srv := httptest.NewServer(gateway.New(gateway.Config{
		Sessions:       sm,
		Health:         health.New(sm.CapacityChecker()),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sessions: sm}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	code, body := e.do(t, "POST", "/v1/sessions", "")
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, body)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return resp.ID
}

func (e *testEnv) post(t *testing.T, id, text string, local bool) gateway.WireView {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"text": text, "is_local": local})
	code, data := e.do(t, "POST", "/v1/sessions/"+id+"/messages", string(body))
	if code != http.StatusAccepted {
		t.Fatalf("post message = %d %s", code, data)
	}
	return decodeView(t, data)
}

func decodeView(t *testing.T, data []byte) gateway.WireView {
	t.Helper()
	var v gateway.WireView
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode view %s: %v", data, err)
	}
	return v
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestCreateSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	code, body := e.do(t, "POST", "/v1/sessions", "")
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", code)
	}
	var resp struct {
		ID   string           `json:"id"`
		View gateway.WireView `json:"view"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("empty session id")
	}
	want := gamestate.Default(3)
	if !resp.View.State.Equal(want) {
		t.Errorf("state = %+v, want %+v", resp.View.State, want)
	}
	if resp.View.Active || resp.View.Expired {
		t.Errorf("active=%v expired=%v, want both false", resp.View.Active, resp.View.Expired)
	}
	if resp.View.Status != gateway.StatusActive {
		t.Errorf("status = %q, want %q", resp.View.Status, gateway.StatusActive)
	}
	if resp.View.MoodEmoji != gamestate.MoodEnergetic.Emoji() {
		t.Errorf("mood_emoji = %q", resp.View.MoodEmoji)
	}
}

func TestCreateSession_Limit(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(c *config.Config) { c.Session.MaxSessions = 1 })

	e.create(t)
	code, body := e.do(t, "POST", "/v1/sessions", "")
	if code != http.StatusTooManyRequests {
		t.Fatalf("second create = %d %s, want 429", code, body)
	}
	code, _ = e.do(t, "GET", "/readyz", "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("readyz at capacity = %d, want 503", code)
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	tests := []struct {
		method, path, body string
	}{
		{"GET", "/v1/sessions/nope", ""},
		{"DELETE", "/v1/sessions/nope", ""},
		{"GET", "/v1/sessions/nope/transcript", ""},
		{"POST", "/v1/sessions/nope/messages", `{"text":"hi"}`},
		{"POST", "/v1/sessions/nope/reset", ""},
		{"POST", "/v1/sessions/nope/continue", ""},
		{"POST", "/v1/sessions/nope/connection-error", ""},
		{"GET", "/v1/sessions/nope/ws", ""},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			code, body := e.do(t, tc.method, tc.path, tc.body)
			if code != http.StatusNotFound {
				t.Errorf("status = %d %s, want 404", code, body)
			}
			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
				t.Errorf("error body = %s", body)
			}
		})
	}
}

func TestPostMessage_InvalidBody(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	id := e.create(t)

	for _, body := range []string{
		"",
		"not json",
		`{"text": 5}`,
		`{"text":"hi","unknown":true}`,
		`{"text":"a"}{"text":"b"}`,
	} {
		code, _ := e.do(t, "POST", "/v1/sessions/"+id+"/messages", body)
		if code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, code)
		}
	}

	code, data := e.do(t, "GET", "/v1/sessions/"+id+"/transcript", "")
	if code != http.StatusOK || !bytes.Contains(data, []byte(`"messages":[]`)) {
		t.Errorf("transcript after bad requests = %d %s, want empty", code, data)
	}
}

func TestGameFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	id := e.create(t)

	v := e.post(t, id, "Let's start round one of the improv!", false)
	if !v.Active {
		t.Error("trigger message did not activate the game")
	}
	if v.State.CurrentRound != 1 || v.State.CurrentPhase != gamestate.PhasePerforming {
		t.Errorf("after round start: round=%d phase=%q", v.State.CurrentRound, v.State.CurrentPhase)
	}

	v = e.post(t, id, "That was funny, I'm amused", false)
	if v.State.HostMood != gamestate.MoodAmused || v.MoodEmoji != gamestate.MoodAmused.Emoji() {
		t.Errorf("mood = %q emoji = %q", v.State.HostMood, v.MoodEmoji)
	}

	// Local messages never change the game state.
	before := v.Version
	v = e.post(t, id, "start the next round please", true)
	if v.State.CurrentRound != 1 || v.Version != before {
		t.Errorf("local message changed state: round=%d version=%d", v.State.CurrentRound, v.Version)
	}

	e.post(t, id, "Next round starts now", false)
	v = e.post(t, id, "Next round, the final one", false)
	if v.State.CurrentRound != 3 || v.Status != gateway.StatusComplete {
		t.Errorf("round=%d status=%q, want 3 %q", v.State.CurrentRound, v.Status, gateway.StatusComplete)
	}
	if v.State.CurrentPhase != gamestate.PhaseSummary {
		t.Errorf("phase = %q, want summary", v.State.CurrentPhase)
	}

	code, data := e.do(t, "GET", "/v1/sessions/"+id+"/transcript", "")
	if code != http.StatusOK {
		t.Fatalf("transcript = %d", code)
	}
	var tr struct {
		Messages []struct {
			Text    string `json:"text"`
			IsLocal bool   `json:"is_local"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(tr.Messages) != 5 || !tr.Messages[2].IsLocal {
		t.Errorf("transcript = %+v", tr.Messages)
	}
}

func TestResetContinueConnectionError(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	id := e.create(t)
	e.post(t, id, "Start round one of the improv", false)

	code, data := e.do(t, "POST", "/v1/sessions/"+id+"/connection-error", "")
	if code != http.StatusOK || !decodeView(t, data).Expired {
		t.Fatalf("connection-error = %d %s", code, data)
	}

	code, data = e.do(t, "POST", "/v1/sessions/"+id+"/continue", "")
	v := decodeView(t, data)
	if code != http.StatusOK || v.Expired || v.State.CurrentRound != 1 {
		t.Fatalf("continue = %d %+v", code, v)
	}

	e.do(t, "POST", "/v1/sessions/"+id+"/connection-error", "")
	code, data = e.do(t, "POST", "/v1/sessions/"+id+"/reset", "")
	v = decodeView(t, data)
	if code != http.StatusOK {
		t.Fatalf("reset = %d", code)
	}
	if v.Expired || !v.State.Equal(gamestate.Default(3)) {
		t.Errorf("after reset: %+v", v)
	}
	if !v.Active {
		t.Error("reset cleared the active-game latch")
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	id := e.create(t)

	if code, _ := e.do(t, "DELETE", "/v1/sessions/"+id, ""); code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", code)
	}
	if code, _ := e.do(t, "GET", "/v1/sessions/"+id, ""); code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", code)
	}
	if e.sessions.Len() != 0 {
		t.Errorf("Len = %d, want 0", e.sessions.Len())
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	a, b := e.create(t), e.create(t)

	code, data := e.do(t, "GET", "/v1/sessions", "")
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	var resp struct {
		Sessions []types.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var ids []string
	for _, info := range resp.Sessions {
		ids = append(ids, info.ID)
		if info.CreatedAt.IsZero() || info.Messages != 0 {
			t.Errorf("info = %+v, want creation time and no messages", info)
		}
	}
	if len(ids) != 2 || !strings.Contains(strings.Join(ids, ","), a) || !strings.Contains(strings.Join(ids, ","), b) {
		t.Errorf("sessions = %v, want %s and %s", ids, a, b)
	}
}

func TestHealthAndMetricsMounted(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if code, body := e.do(t, "GET", path, ""); code != http.StatusOK {
			t.Errorf("GET %s = %d %s", path, code, body)
		}
	}
}

func TestNewWireView(t *testing.T) {
	t.Parallel()

	st := gamestate.Default(2)
	st.HostMood = gamestate.MoodImpressed
	v := gateway.NewWireView(session.View{State: st})
	if v.Status != gateway.StatusActive || v.MoodEmoji != "👏" {
		t.Errorf("got %q %q", v.Status, v.MoodEmoji)
	}

	st.CurrentRound = 2
	v = gateway.NewWireView(session.View{State: st})
	if v.Status != gateway.StatusComplete {
		t.Errorf("status = %q, want %q", v.Status, gateway.StatusComplete)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"state"`, `"active"`, `"expired"`, `"version"`, `"status"`, `"mood_emoji"`} {
		if !bytes.Contains(data, []byte(key)) {
			t.Errorf("wire view %s lacks %s", data, key)
		}
	}
}
