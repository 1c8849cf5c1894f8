package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/mocks"
	"improv-server/internal/monitor"
	"improv-server/internal/orchestrator"
	"improv-server/internal/scene"
	"improv-server/internal/speech"
	"improv-server/internal/supervisor"
)

var (
	alice = domain.Character{Name: "Alice", Catchphrases: []string{"Brilliant!"}, VoiceID: "nova"}
	bob   = domain.Character{Name: "Bob", Catchphrases: []string{"Oh dear"}, VoiceID: "onyx"}
	carol = domain.Character{Name: "Carol"}
	human = domain.Character{Name: "You", Human: true}
)

type genFunc func(ctx context.Context, req orchestrator.GenerationRequest) (string, error)

func (f genFunc) Generate(ctx context.Context, req orchestrator.GenerationRequest) (string, error) {
	return f(ctx, req)
}

type recorder struct {
	mu       sync.Mutex
	statuses []orchestrator.Status
	chosen   []string
	lines    []string
}

func (r *recorder) SceneStateChanged(_ string, s orchestrator.Status, _ domain.SceneSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) SpeakerChosen(_ string, d domain.SpeakerDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chosen = append(r.chosen, d.Speaker.Name)
}

func (r *recorder) LineCommitted(_ string, l domain.DialogueLine, _ domain.SceneSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, l.Speaker+": "+l.Text)
}

type fixture struct {
	state    *scene.State
	deps     orchestrator.Deps
	monitor  *monitor.Monitor
	registry *prometheus.Registry
	observer *recorder
}

func newFixture(t *testing.T, gen orchestrator.Generator, chars ...domain.Character) *fixture {
	t.Helper()
	if len(chars) == 0 {
		chars = []domain.Character{alice, bob, carol}
	}
	st, err := scene.New(chars, "bakery")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	mon := monitor.New(monitor.DefaultConfig(), nil, monitor.NewMetrics(reg), zap.NewNop())
	obs := &recorder{}
	return &fixture{
		state: st,
		deps: orchestrator.Deps{
			Selector:  supervisor.NewSelector(supervisor.Config{Strategy: supervisor.RoundRobin}, nil, zap.NewNop()),
			Generator: gen,
			Monitor:   mon,
			Observer:  obs,
			Logger:    zap.NewNop(),
		},
		monitor:  mon,
		registry: reg,
		observer: obs,
	}
}

func quick(maxLines int) orchestrator.Config {
	return orchestrator.Config{Duration: time.Minute, MaxLines: maxLines, Pause: 0}
}

func TestRunEndsAtLineLimit(t *testing.T) {
	gen := &mocks.Generator{}
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r orchestrator.GenerationRequest) bool {
		return r.Theme == "bakery" && len(r.Others) == 2 && len(r.Hints.Objectives) > 0
	})).Return("Pass the flour, please!", nil)

	f := newFixture(t, gen)
	o, err := orchestrator.New(quick(6), f.state, f.deps)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusIdle, o.Status())

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StatusEnded, res.Status)
	assert.Equal(t, orchestrator.ReasonLineLimit, res.Reason)
	require.Len(t, res.Lines, 6)
	speakers := make([]string, 0, 6)
	for _, l := range res.Lines {
		speakers = append(speakers, l.Speaker)
	}
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Alice", "Bob", "Carol"}, speakers)

	assert.Equal(t, 6, res.Summary.TotalDecisions)
	assert.Equal(t, 6, res.Summary.TotalLines)
	assert.Equal(t, 1.0, res.Summary.PrimarySuccessRate)
	assert.Len(t, f.monitor.History(), 1)

	// решения несут сцену в том виде, в каком она была до их реплики
	require.Len(t, res.Summary.Decisions, 6)
	for i, d := range res.Summary.Decisions {
		assert.Equal(t, i, d.Context.TotalLines, "decision %d", i+1)
	}
	assert.Zero(t, res.Summary.Decisions[0].Participation["Alice"].Turns)
	assert.Equal(t, 1, res.Summary.Decisions[3].Participation["Alice"].Turns)
	assert.Equal(t, 2, res.Summary.Participation["Alice"].Turns)
	assert.Equal(t, 2, res.Summary.Participation["Carol"].Turns)

	assert.Equal(t, orchestrator.StatusEnded, o.Status())
	assert.Equal(t, 6, o.LatestSnapshot().TotalLines)
	assert.Zero(t, o.Remaining())
	assert.Equal(t, []orchestrator.Status{orchestrator.StatusRunning, orchestrator.StatusEnded}, f.observer.statuses)
	assert.Len(t, f.observer.chosen, 6)
	assert.Len(t, f.observer.lines, 6)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGenerationFailureUsesFallbackLine(t *testing.T) {
	gen := &mocks.Generator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model overloaded"))

	f := newFixture(t, gen, alice, bob)
	o, err := orchestrator.New(quick(4), f.state, f.deps)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Lines, 4)
	assert.Equal(t, "Brilliant! ...about bakery!", res.Lines[0].Text)
	assert.Equal(t, "Oh dear ...about bakery!", res.Lines[1].Text)

	assert.Equal(t, 4, res.Summary.Errors.ByKind[domain.ErrorKindGeneration])
	assert.Equal(t, 4.0, counterTotal(t, f.registry, "improv_generation_fallbacks_total"))
}

func TestGenerationTimeoutUsesFallbackLine(t *testing.T) {
	gen := genFunc(func(ctx context.Context, _ orchestrator.GenerationRequest) (string, error) {
		<-ctx.Done()
		return "too late", nil
	})

	f := newFixture(t, gen, carol, bob)
	cfg := quick(2)
	cfg.GenerationTimeout = 20 * time.Millisecond
	o, err := orchestrator.New(cfg, f.state, f.deps)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "Well ...about bakery!", res.Lines[0].Text)
}

func TestRunEndsWhenTimeIsUp(t *testing.T) {
	gen := &mocks.Generator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return("Yes, and the oven is singing.", nil)

	f := newFixture(t, gen)
	o, err := orchestrator.New(orchestrator.Config{Duration: 60 * time.Millisecond, MaxLines: 1000, Pause: 10 * time.Millisecond}, f.state, f.deps)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusEnded, res.Status)
	assert.Equal(t, orchestrator.ReasonTimeUp, res.Reason)
	assert.NotEmpty(t, res.Lines)
	assert.Less(t, len(res.Lines), 1000)
}

func TestStopDiscardsInFlightLine(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gen := genFunc(func(ctx context.Context, _ orchestrator.GenerationRequest) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "I should never be heard", nil
	})

	f := newFixture(t, gen)
	o, err := orchestrator.New(quick(10), f.state, f.deps)
	require.NoError(t, err)

	done := make(chan orchestrator.Result, 1)
	go func() {
		res, err := o.Run(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	<-started
	o.Stop()
	close(release)

	select {
	case res := <-done:
		assert.Equal(t, orchestrator.StatusCancelled, res.Status)
		assert.Equal(t, orchestrator.ReasonStopped, res.Reason)
		assert.Empty(t, res.Lines)
	case <-time.After(5 * time.Second):
		t.Fatal("scene did not stop")
	}
	assert.Equal(t, orchestrator.StatusCancelled, o.Status())
}

func TestStopIdleScene(t *testing.T) {
	f := newFixture(t, &mocks.Generator{})
	o, err := orchestrator.New(quick(3), f.state, f.deps)
	require.NoError(t, err)

	o.Stop()
	o.Stop()
	assert.Equal(t, orchestrator.StatusCancelled, o.Status())

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSpeechFailureDoesNotAbortScene(t *testing.T) {
	gen := &mocks.Generator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return("Who ordered the croissant?", nil)
	out := &mocks.SpeechOutput{}
	out.On("Speak", mock.Anything, mock.MatchedBy(func(u speech.Utterance) bool { return u.Text != "" })).Return(errors.New("tts down"))

	f := newFixture(t, gen, alice, bob)
	f.deps.Speech = out
	o, err := orchestrator.New(quick(3), f.state, f.deps)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusEnded, res.Status)
	assert.Len(t, res.Lines, 3)
	out.AssertNumberOfCalls(t, "Speak", 3)
	assert.Equal(t, 3.0, counterTotal(t, f.registry, "improv_speech_failures_total"))
}

func TestMixedMode(t *testing.T) {
	t.Run("requires a human performer", func(t *testing.T) {
		f := newFixture(t, &mocks.Generator{}, alice, bob)
		_, err := orchestrator.New(orchestrator.Config{Mode: orchestrator.ModeMixed}, f.state, f.deps)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("ai-only rejects human lines", func(t *testing.T) {
		f := newFixture(t, &mocks.Generator{}, alice, bob)
		o, err := orchestrator.New(quick(2), f.state, f.deps)
		require.NoError(t, err)
		assert.ErrorIs(t, o.SubmitHumanLine("hi"), domain.ErrInvalidState)
	})

	t.Run("human lines and transcripts are committed", func(t *testing.T) {
		bus := speech.NewEventBus(zap.NewNop())
		var o *orchestrator.Orchestrator
		turns := 0
		gen := genFunc(func(_ context.Context, req orchestrator.GenerationRequest) (string, error) {
			assert.False(t, req.Speaker.Human)
			turns++
			if turns == 1 {
				bus.Publish(speech.Event{Kind: speech.EventFinalTranscript, SceneID: o.SceneID(), Text: "I brought the sourdough!"})
				bus.Publish(speech.Event{Kind: speech.EventFinalTranscript, SceneID: "other-scene", Text: "ignored"})
				bus.Publish(speech.Event{Kind: speech.EventFinalTranscript, SceneID: "", Text: "unscoped"})
			}
			return "Marvellous.", nil
		})

		f := newFixture(t, gen, alice, bob, human)
		f.deps.Voice = bus
		cfg := quick(5)
		cfg.Mode = orchestrator.ModeMixed
		var err error
		o, err = orchestrator.New(cfg, f.state, f.deps)
		require.NoError(t, err)
		require.NoError(t, o.SubmitHumanLine("  Good morning, bakers!  "))
		assert.Error(t, o.SubmitHumanLine("   "))

		res, err := o.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Lines, 5)
		assert.Equal(t, "You", res.Lines[0].Speaker)
		assert.Equal(t, "Good morning, bakers!", res.Lines[0].Text)
		assert.Equal(t, "You", res.Lines[2].Speaker)
		assert.Equal(t, "I brought the sourdough!", res.Lines[2].Text)
		for _, l := range res.Lines {
			assert.NotEqual(t, "ignored", l.Text)
			assert.NotEqual(t, "unscoped", l.Text)
		}
		assert.Equal(t, 3, res.Summary.TotalDecisions)
	})
}

func TestBargeInInterruptsSpeech(t *testing.T) {
	bus := speech.NewEventBus(zap.NewNop())
	out := &mocks.SpeechOutput{}
	out.On("Speak", mock.Anything, mock.Anything).Return(nil)

	var o *orchestrator.Orchestrator
	out.On("Interrupt", mock.Anything).Return().Once()
	gen := genFunc(func(context.Context, orchestrator.GenerationRequest) (string, error) {
		bus.Publish(speech.Event{Kind: speech.EventSpeechStart, SceneID: o.SceneID()})
		return "Shh!", nil
	})

	f := newFixture(t, gen, alice, bob)
	f.deps.Speech = out
	f.deps.Voice = bus
	var err error
	o, err = orchestrator.New(quick(1), f.state, f.deps)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)
	out.AssertCalled(t, "Interrupt", o.SceneID())
}

func TestNewValidates(t *testing.T) {
	st, err := scene.New([]domain.Character{human}, "void")
	require.NoError(t, err)
	f := newFixture(t, &mocks.Generator{})

	_, err = orchestrator.New(quick(1), st, f.deps)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = orchestrator.New(quick(1), nil, f.deps)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = orchestrator.New(quick(1), f.state, orchestrator.Deps{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFallbackLineAndHints(t *testing.T) {
	assert.Equal(t, "Brilliant! ...about pirates!", orchestrator.FallbackLine(alice, "pirates"))
	assert.Equal(t, "Well ...about pirates!", orchestrator.FallbackLine(carol, "pirates"))

	snap := domain.SceneSnapshot{
		Phase: domain.PhaseClimax,
		Context: domain.SceneContext{
			Energy:   domain.EnergyHigh,
			Location: "the kitchen",
			Unusual:  &domain.UnusualElement{Speaker: "Bob", Text: "The cake is alive!", Score: 40},
		},
		Pacing: &domain.PacingIssue{Type: domain.PacingNeedsConflict, Suggestion: "create_tension"},
	}
	h := orchestrator.BuildHints(domain.SpeakerDecision{Speaker: alice, Reason: "Supervisor decision", SceneNote: "raise stakes"}, snap)
	assert.Equal(t, domain.PhaseObjectives(domain.PhaseClimax), h.Objectives)
	assert.Equal(t, "the kitchen", h.Location)
	require.NotNil(t, h.Unusual)
	assert.Equal(t, "raise stakes", h.SceneNote)
	require.NotNil(t, h.Pacing)

	h = orchestrator.BuildHints(domain.SpeakerDecision{Speaker: bob}, snap)
	assert.Nil(t, h.Unusual)
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
