package session

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/improvbattle/internal/gamestate"
	"github.com/MrWong99/improvbattle/internal/observe"
	"github.com/MrWong99/improvbattle/internal/transcript"
	"github.com/MrWong99/improvbattle/pkg/types"
)

func remote(text string) types.Message { return types.Message{Text: text} }
func local(text string) types.Message  { return types.Message{Text: text, IsLocal: true} }

func newSession(opts ...Option) *Session {
	return New("test", gamestate.New(), opts...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_DefaultView(t *testing.T) {
	t.Parallel()

	s := newSession()
	v := s.View()
	if !v.State.Equal(gamestate.Default(gamestate.DefaultTotalRounds)) {
		t.Errorf("State = %+v, want defaults", v.State)
	}
	if v.Active || v.Expired || v.Version != 0 {
		t.Errorf("view = %+v, want inactive, not expired, version 0", v)
	}
	if s.ID() != "test" {
		t.Errorf("ID = %q", s.ID())
	}
}

func TestObserve_ProcessesEveryNewMessageInOrder(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()
	msgs := []types.Message{
		remote("Let's start round one"),
		remote("Next round please"),
	}
	// Both messages arrive in one snapshot; each must be applied.
	s.Observe(ctx, msgs)
	if got := s.View().State.CurrentRound; got != 2 {
		t.Errorf("CurrentRound = %d, want 2", got)
	}
	if got := s.Seen(); got != 2 {
		t.Errorf("Seen = %d, want 2", got)
	}

	// Re-delivering the same or an older prefix is a no-op.
	before := s.View()
	s.Observe(ctx, msgs)
	s.Observe(ctx, msgs[:1])
	if after := s.View(); after.Version != before.Version || !after.State.Equal(before.State) {
		t.Errorf("stale snapshot changed the session: %+v -> %+v", before, after)
	}

	s.Observe(ctx, append(slices.Clone(msgs), remote("Time for the final summary")))
	if got := s.View().State.CurrentPhase; got != gamestate.PhaseSummary {
		t.Errorf("CurrentPhase = %q, want summary", got)
	}
}

func TestObserve_LocalMessagesOnlyAffectLatch(t *testing.T) {
	t.Parallel()

	s := newSession()
	s.Observe(context.Background(), []types.Message{local("I love improv, start the next round")})

	v := s.View()
	if !v.Active {
		t.Error("local trigger keyword did not activate the game")
	}
	if v.State.CurrentRound != 0 {
		t.Errorf("local message changed CurrentRound to %d", v.State.CurrentRound)
	}
}

func TestObserve_LatchIsOneWay(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()
	s.Observe(ctx, []types.Message{remote("Hi, I'm Alex, your host")})
	if !s.View().Active {
		t.Fatal("host introduction did not activate the game")
	}
	s.Observe(ctx, []types.Message{remote("Hi, I'm Alex, your host"), remote("bye")})
	s.Reset(ctx)
	if !s.View().Active {
		t.Error("latch cleared by later messages or reset")
	}
}

func TestObserve_NonTriggerKeepsInactive(t *testing.T) {
	t.Parallel()

	s := newSession()
	s.Observe(context.Background(), []types.Message{remote("hello"), local("hi there")})
	if s.View().Active {
		t.Error("game activated without a trigger keyword")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()
	s.Observe(ctx, []types.Message{
		remote("Welcome! What's your name?"),
		remote("Start the round"),
		remote("Funny moments, I'm amused"),
	})
	s.NotifyConnectionError(ctx, SourceClient)
	before := s.View()

	v := s.Reset(ctx)
	want := gamestate.Default(gamestate.DefaultTotalRounds)
	if !v.State.Equal(want) {
		t.Errorf("State after reset = %+v, want %+v", v.State, want)
	}
	if v.Expired {
		t.Error("Expired still set after reset")
	}
	if !v.Active {
		t.Error("reset cleared the active latch")
	}
	if v.Version <= before.Version {
		t.Errorf("Version = %d, want > %d", v.Version, before.Version)
	}
	// The transcript position is kept so old messages are not replayed.
	if got := s.Seen(); got != 3 {
		t.Errorf("Seen = %d, want 3", got)
	}
}

func TestContinue(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()
	s.Observe(ctx, []types.Message{remote("start round")})
	s.NotifyConnectionError(ctx, SourceWatchdog)

	v := s.Continue(ctx)
	if v.Expired {
		t.Error("Expired still set after continue")
	}
	if v.State.CurrentRound != 1 {
		t.Errorf("continue changed state: %+v", v.State)
	}

	// Continue on a live session changes nothing.
	again := s.Continue(ctx)
	if again.Version != v.Version {
		t.Errorf("Version moved from %d to %d on no-op continue", v.Version, again.Version)
	}
}

func TestNotifyConnectionError_Idempotent(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()
	first := s.NotifyConnectionError(ctx, SourceClient)
	second := s.NotifyConnectionError(ctx, SourceClient)
	if !first.Expired || !second.Expired {
		t.Error("session not expired")
	}
	if first.Version != 1 || second.Version != 1 {
		t.Errorf("versions = %d, %d, want 1, 1", first.Version, second.Version)
	}
}

func TestOnChange(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()

	var got []View
	cancel := s.OnChange(func(v View) { got = append(got, v) })

	s.Observe(ctx, []types.Message{remote("nothing relevant")})
	s.Observe(ctx, []types.Message{remote("nothing relevant"), remote("next round")})
	s.NotifyConnectionError(ctx, SourceClient)
	cancel()
	s.Continue(ctx)

	if len(got) != 2 {
		t.Fatalf("listener called %d times, want 2", len(got))
	}
	if got[0].State.CurrentRound != 1 || !got[0].Active {
		t.Errorf("first view = %+v", got[0])
	}
	if !got[1].Expired || got[1].Version != got[0].Version+1 {
		t.Errorf("second view = %+v", got[1])
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	s := newSession()
	s.Observe(context.Background(), []types.Message{remote("start the next round")})

	select {
	case <-s.Done():
		t.Fatal("Done closed before Close")
	default:
	}

	s.Close()
	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	if got := s.View().State.CurrentRound; got != 1 {
		t.Errorf("view after Close: round = %d, want 1", got)
	}
}

func TestRun_ConsumesTranscript(t *testing.T) {
	t.Parallel()

	log := transcript.NewLog()
	sub := log.Subscribe()
	s := newSession()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, sub) }()

	for _, m := range []types.Message{
		remote("Let's start round one"),
		local("okay!"),
		remote("Here is my feedback, I'm impressed"),
	} {
		if _, err := log.Append(m); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "all messages processed", func() bool { return s.Seen() == 3 })

	v := s.View()
	if v.State.CurrentRound != 1 || v.State.ScenariosCompleted != 1 || v.State.HostMood != gamestate.MoodImpressed {
		t.Errorf("state = %+v", v.State)
	}

	log.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after log close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after log close")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	log := transcript.NewLog()
	sub := log.Subscribe()
	defer sub.Cancel()
	s := newSession()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, sub) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSession_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	s := newSession()
	ctx := context.Background()

	var (
		mu       sync.Mutex
		versions []uint64
	)
	s.OnChange(func(v View) {
		mu.Lock()
		versions = append(versions, v.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			switch i % 3 {
			case 0:
				s.NotifyConnectionError(ctx, SourceClient)
			case 1:
				s.Continue(ctx)
			default:
				s.Reset(ctx)
			}
			_ = s.View()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		if versions[i] != versions[i-1]+1 {
			t.Fatalf("listener saw versions out of order: %v", versions)
		}
	}
}

func TestSession_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(WithMetrics(m))
	ctx := context.Background()
	s.Observe(ctx, []types.Message{remote("start round"), local("yes"), remote("hmm")})
	s.Reset(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[met.Name] += dp.Value
				}
			}
		}
	}
	if totals["improvbattle.messages"] != 3 {
		t.Errorf("messages = %d, want 3", totals["improvbattle.messages"])
	}
	if totals["improvbattle.resets"] != 1 {
		t.Errorf("resets = %d, want 1", totals["improvbattle.resets"])
	}
}
