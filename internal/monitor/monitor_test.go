package monitor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/mocks"
	"improv-server/internal/monitor"
	"improv-server/internal/scene"
)

var cast = []domain.Character{{Name: "Alice"}, {Name: "Bob"}}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMonitor(clock *fakeClock) *monitor.Monitor {
	return monitor.New(monitor.DefaultConfig(), nil, nil, zap.NewNop(), monitor.WithClock(clock.Now))
}

// runSession проводит сцену с заданным порядком говорящих и завершает ее.
func runSession(t *testing.T, m *monitor.Monitor, clock *fakeClock, theme string, order []int, primary func(i int) bool) monitor.SessionSummary {
	t.Helper()
	st, err := scene.New(cast, theme, scene.WithTargetLines(len(order)))
	require.NoError(t, err)
	sess := m.StartSession(st.ID(), cast, theme, monitor.SessionSettings{Strategy: "context-driven"})

	for i, idx := range order {
		clock.Advance(time.Second)
		used := primary(i)
		d := domain.SpeakerDecision{Speaker: cast[idx], Reason: "Supervisor decision", Strategy: "context-driven", UsedPrimary: used}
		var desc *domain.ErrorDescriptor
		if !used {
			d.Reason = "Weighted random selection (balancing participation)"
			desc = domain.NewErrorDescriptor(domain.ErrorKindTimeout, errors.New("deadline"), clock.Now())
		}
		_, err := st.CommitLine(cast[idx], fmt.Sprintf("line %d", i))
		require.NoError(t, err)
		require.NoError(t, sess.LogDecision(d, st.Snapshot(), 100*time.Millisecond, used, desc))
		require.NoError(t, sess.LogSceneSnapshot(st.Snapshot()))
	}
	summary, err := sess.End()
	require.NoError(t, err)
	return summary
}

func always(int) bool { return true }

func TestSessionSummary(t *testing.T) {
	clock := newClock()
	m := newMonitor(clock)

	summary := runSession(t, m, clock, "bakery", []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}, func(i int) bool { return i%5 != 4 })

	assert.Equal(t, 10, summary.TotalDecisions)
	assert.Equal(t, 8, summary.PrimaryDecisions)
	assert.Equal(t, 2, summary.FallbackDecisions)
	assert.InDelta(t, 0.8, summary.PrimarySuccessRate, 1e-9)
	assert.InDelta(t, 0.2, summary.FallbackRate, 1e-9)
	assert.InDelta(t, 100.0, summary.AvgLatencyMs, 1e-9)
	assert.Equal(t, 50, summary.Participation["Alice"].Percentage)
	assert.Equal(t, 5, summary.Participation["Bob"].Turns)
	assert.Zero(t, summary.ParticipationVariance)
	assert.True(t, summary.Balanced)
	assert.Equal(t, 10, summary.TotalLines)
	assert.Equal(t, int64(10_000), summary.DurationMs)

	assert.Equal(t, 2, summary.Errors.Total)
	assert.Equal(t, 2, summary.Errors.ByKind[domain.ErrorKindTimeout])
	require.NotNil(t, summary.Errors.Last)

	assert.Equal(t, 8, summary.ReasoningPatterns["supervisor decision"])
	assert.Equal(t, 2, summary.ReasoningPatterns["weighted random selection (balancing participation)"])

	// setup -> development на строке 3, development -> climax на 8, climax -> resolution на 10
	require.Len(t, summary.PhaseTransitions, 3)
	assert.Equal(t, domain.PhaseSetup, summary.PhaseTransitions[0].From)
	assert.Equal(t, domain.PhaseDevelopment, summary.PhaseTransitions[0].To)
	assert.Equal(t, 3, summary.PhaseTransitions[0].Line)
	assert.Equal(t, domain.PhaseResolution, summary.PhaseTransitions[2].To)
	assert.Equal(t, int64(10_000), summary.PhaseTransitions[2].OffsetMs)
}

func TestSessionParticipationVariance(t *testing.T) {
	clock := newClock()
	m := newMonitor(clock)

	summary := runSession(t, m, clock, "bakery", []int{0, 0, 0, 1}, always)

	assert.Equal(t, 75, summary.Participation["Alice"].Percentage)
	assert.Equal(t, 25, summary.Participation["Bob"].Percentage)
	assert.InDelta(t, 625.0, summary.ParticipationVariance, 1e-9)
	assert.False(t, summary.Balanced)
}

func TestIncrementalMeanLatency(t *testing.T) {
	clock := newClock()
	m := newMonitor(clock)
	st, err := scene.New(cast, "zoo")
	require.NoError(t, err)
	sess := m.StartSession(st.ID(), cast, "zoo", monitor.SessionSettings{})

	for _, ms := range []int{100, 200, 600} {
		d := domain.SpeakerDecision{Speaker: cast[0], Reason: "Round-robin rotation", Strategy: "round-robin", UsedPrimary: true}
		require.NoError(t, sess.LogDecision(d, st.Snapshot(), time.Duration(ms)*time.Millisecond, true, nil))
	}

	stats := sess.Statistics()
	assert.Equal(t, 3, stats.TotalDecisions)
	assert.InDelta(t, 300.0, stats.AvgLatencyMs, 1e-9)
	assert.Equal(t, 1.0, stats.PrimarySuccessRate)
	assert.Len(t, m.ActiveSessions(), 1)
}

func TestSceneSnapshotRefreshesParticipation(t *testing.T) {
	m := newMonitor(newClock())
	st, err := scene.New(cast, "zoo")
	require.NoError(t, err)
	sess := m.StartSession(st.ID(), cast, "zoo", monitor.SessionSettings{})

	d := domain.SpeakerDecision{Speaker: cast[0], Reason: "Supervisor decision", UsedPrimary: true}
	require.NoError(t, sess.LogDecision(d, st.Snapshot(), 0, true, nil))
	_, err = st.CommitLine(cast[0], "Look at the penguins")
	require.NoError(t, err)
	require.NoError(t, sess.LogSceneSnapshot(st.Snapshot()))

	summary, err := sess.End()
	require.NoError(t, err)
	require.Len(t, summary.Decisions, 1)
	assert.Zero(t, summary.Decisions[0].Participation["Alice"].Turns)
	assert.Zero(t, summary.Decisions[0].Context.TotalLines)
	assert.Equal(t, 1, summary.Participation["Alice"].Turns)
	assert.Equal(t, 100, summary.Participation["Alice"].Percentage)
}

func TestSessionEndedTwice(t *testing.T) {
	m := newMonitor(newClock())
	sess := m.StartSession("s1", cast, "zoo", monitor.SessionSettings{})

	summary, err := sess.End()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalDecisions)
	assert.Equal(t, 1.0, summary.PrimarySuccessRate)

	_, err = sess.End()
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	err = sess.LogDecision(domain.SpeakerDecision{Speaker: cast[0]}, domain.SceneSnapshot{}, 0, true, nil)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
	assert.ErrorIs(t, sess.LogSceneSnapshot(domain.SceneSnapshot{}), domain.ErrNoActiveSession)

	assert.Empty(t, m.ActiveSessions())
	assert.Len(t, m.History(), 1)
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	clock := newClock()
	m := newMonitor(clock)

	for i := 0; i < 11; i++ {
		runSession(t, m, clock, fmt.Sprintf("theme-%d", i), []int{0, 1}, always)
	}

	history := m.History()
	require.Len(t, history, 10)
	assert.Equal(t, "theme-1", history[0].Theme)
	assert.Equal(t, "theme-10", history[9].Theme)
}

func TestInsights(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		assert.Nil(t, newMonitor(newClock()).GetInsights(0))
	})

	t.Run("healthy sessions", func(t *testing.T) {
		clock := newClock()
		m := newMonitor(clock)
		for i := 0; i < 3; i++ {
			runSession(t, m, clock, "bakery", []int{0, 1, 0, 1}, always)
		}

		in := m.GetInsights(0)
		require.NotNil(t, in)
		assert.Equal(t, 3, in.SessionsAnalyzed)
		assert.Equal(t, 1.0, in.AvgSuccessRate)
		assert.Equal(t, 1.0, in.ParticipationConsistency)
		assert.Empty(t, in.Recommendations)
		require.NotEmpty(t, in.CommonReasoning)
		assert.Equal(t, monitor.ReasoningCount{Reason: "supervisor decision", Count: 12}, in.CommonReasoning[0])
	})

	t.Run("flags problems", func(t *testing.T) {
		clock := newClock()
		m := newMonitor(clock)
		for i := 0; i < 5; i++ {
			runSession(t, m, clock, "bakery", []int{0, 0, 0, 1}, func(i int) bool { return i == 0 })
		}

		in := m.GetInsights(5)
		require.NotNil(t, in)
		assert.InDelta(t, 0.25, in.AvgSuccessRate, 1e-9)
		assert.Zero(t, in.ParticipationConsistency)

		types := make([]string, 0, len(in.Recommendations))
		for _, r := range in.Recommendations {
			types = append(types, r.Type)
		}
		assert.Equal(t, []string{"low_ai_success", "unbalanced_participation"}, types)
	})

	t.Run("slow decisions", func(t *testing.T) {
		m := newMonitor(newClock())
		sess := m.StartSession("s", cast, "zoo", monitor.SessionSettings{})
		d := domain.SpeakerDecision{Speaker: cast[0], Reason: "Supervisor decision", UsedPrimary: true}
		require.NoError(t, sess.LogDecision(d, domain.SceneSnapshot{}, 4*time.Second, true, nil))
		_, err := sess.End()
		require.NoError(t, err)

		in := m.GetInsights(1)
		require.NotNil(t, in)
		require.Len(t, in.Recommendations, 1)
		assert.Equal(t, "slow_decisions", in.Recommendations[0].Type)
	})
}

// assertSummaryRestored сравнивает импортированные итоги с теми, что вернул Session.End.
func assertSummaryRestored(t *testing.T, want, got monitor.SessionSummary) {
	t.Helper()
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.SceneID, got.SceneID)
	assert.Equal(t, want.Theme, got.Theme)
	assert.Equal(t, want.Characters, got.Characters)
	assert.Equal(t, want.Settings, got.Settings)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.EndedAt.Equal(got.EndedAt))
	assert.Equal(t, want.DurationMs, got.DurationMs)

	assert.Equal(t, want.TotalDecisions, got.TotalDecisions)
	assert.Equal(t, want.PrimaryDecisions, got.PrimaryDecisions)
	assert.Equal(t, want.FallbackDecisions, got.FallbackDecisions)
	assert.InDelta(t, want.PrimarySuccessRate, got.PrimarySuccessRate, 1e-9)
	assert.InDelta(t, want.FallbackRate, got.FallbackRate, 1e-9)
	assert.InDelta(t, want.AvgLatencyMs, got.AvgLatencyMs, 1e-9)
	assert.Equal(t, want.Participation, got.Participation)
	assert.InDelta(t, want.ParticipationVariance, got.ParticipationVariance, 1e-9)
	assert.Equal(t, want.Balanced, got.Balanced)
	assert.Equal(t, want.ReasoningPatterns, got.ReasoningPatterns)
	assert.Equal(t, want.TotalLines, got.TotalLines)
	assert.Equal(t, want.DramaticBeats, got.DramaticBeats)

	require.Len(t, got.PhaseTransitions, len(want.PhaseTransitions))
	for i, tr := range want.PhaseTransitions {
		assert.Equal(t, tr.From, got.PhaseTransitions[i].From)
		assert.Equal(t, tr.To, got.PhaseTransitions[i].To)
		assert.Equal(t, tr.Line, got.PhaseTransitions[i].Line)
		assert.Equal(t, tr.OffsetMs, got.PhaseTransitions[i].OffsetMs)
		assert.True(t, tr.At.Equal(got.PhaseTransitions[i].At))
	}

	assert.Equal(t, want.Errors.Total, got.Errors.Total)
	assert.Equal(t, want.Errors.ByKind, got.Errors.ByKind)
	if want.Errors.Last == nil {
		assert.Nil(t, got.Errors.Last)
	} else {
		require.NotNil(t, got.Errors.Last)
		assert.Equal(t, want.Errors.Last.Kind, got.Errors.Last.Kind)
		assert.Equal(t, want.Errors.Last.Message, got.Errors.Last.Message)
	}

	require.Len(t, got.Decisions, len(want.Decisions))
	for i, d := range want.Decisions {
		g := got.Decisions[i]
		assert.Equal(t, d.Sequence, g.Sequence)
		assert.Equal(t, d.Speaker, g.Speaker)
		assert.Equal(t, d.Reason, g.Reason)
		assert.Equal(t, d.Strategy, g.Strategy)
		assert.Equal(t, d.UsedPrimary, g.UsedPrimary)
		assert.InDelta(t, d.LatencyMs, g.LatencyMs, 1e-9)
		assert.Equal(t, d.Context, g.Context)
		assert.Equal(t, d.Participation, g.Participation)
		assert.Equal(t, d.Error == nil, g.Error == nil)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	clock := newClock()
	m := newMonitor(clock)
	ended := []monitor.SessionSummary{
		runSession(t, m, clock, "bakery", []int{0, 1, 0, 0, 1}, func(i int) bool { return i != 2 }),
		runSession(t, m, clock, "castle", []int{1, 0}, always),
	}

	var buf bytes.Buffer
	require.NoError(t, m.Export(&buf))

	restored := newMonitor(newClock())
	require.NoError(t, restored.Import(bytes.NewReader(buf.Bytes())))

	history := restored.History()
	require.Len(t, history, len(ended))
	for i := range ended {
		assertSummaryRestored(t, ended[i], history[i])
	}

	// восстановленная история дает те же выводы
	want, got := m.GetInsights(0), restored.GetInsights(0)
	require.NotNil(t, want)
	require.NotNil(t, got)
	assert.Equal(t, want.SessionsAnalyzed, got.SessionsAnalyzed)
	assert.InDelta(t, want.AvgSuccessRate, got.AvgSuccessRate, 1e-9)
	assert.InDelta(t, want.AvgLatencyMs, got.AvgLatencyMs, 1e-9)
	assert.InDelta(t, want.ParticipationConsistency, got.ParticipationConsistency, 1e-9)
	assert.Equal(t, want.CommonReasoning, got.CommonReasoning)
	assert.Equal(t, want.Recommendations, got.Recommendations)

	t.Run("rejects garbage", func(t *testing.T) {
		err := restored.Import(bytes.NewBufferString("{not json"))
		assert.ErrorIs(t, err, domain.ErrConfiguration)
		assert.Len(t, restored.History(), 2)
	})

	t.Run("clear", func(t *testing.T) {
		restored.Clear()
		assert.Empty(t, restored.History())
		assert.Nil(t, restored.GetInsights(0))
	})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("load and persist", func(t *testing.T) {
		clock := newClock()
		src := newMonitor(clock)
		runSession(t, src, clock, "bakery", []int{0, 1}, always)
		saved := src.History()

		store := &mocks.HistoryStore{}
		store.On("LoadHistory", mock.Anything).Return(saved, nil).Once()
		store.On("SaveHistory", mock.Anything, mock.AnythingOfType("[]monitor.SessionSummary")).Return(nil).Once()

		m := monitor.New(monitor.DefaultConfig(), store, nil, zap.NewNop())
		require.NoError(t, m.LoadHistory(ctx))
		assert.Equal(t, saved, m.History())
		require.NoError(t, m.Persist(ctx))
		store.AssertExpectations(t)
	})

	t.Run("load failure keeps empty history", func(t *testing.T) {
		store := &mocks.HistoryStore{}
		store.On("LoadHistory", mock.Anything).Return(nil, errors.New("corrupt")).Once()

		m := monitor.New(monitor.DefaultConfig(), store, nil, zap.NewNop())
		err := m.LoadHistory(ctx)
		assert.ErrorIs(t, err, domain.ErrPersistence)
		assert.Empty(t, m.History())
	})

	t.Run("save failure", func(t *testing.T) {
		store := &mocks.HistoryStore{}
		store.On("SaveHistory", mock.Anything, mock.Anything).Return(errors.New("down")).Once()

		m := monitor.New(monitor.DefaultConfig(), store, nil, zap.NewNop())
		assert.ErrorIs(t, m.Persist(ctx), domain.ErrPersistence)
	})

	t.Run("no store", func(t *testing.T) {
		m := newMonitor(newClock())
		assert.NoError(t, m.LoadHistory(ctx))
		assert.NoError(t, m.Persist(ctx))
	})
}

func TestConcurrentSessionsAndReaders(t *testing.T) {
	clock := newClock()
	m := newMonitor(clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := m.StartSession(fmt.Sprintf("scene-%d", i), cast, "zoo", monitor.SessionSettings{})
			for j := 0; j < 20; j++ {
				d := domain.SpeakerDecision{Speaker: cast[j%2], Reason: "Round-robin rotation", UsedPrimary: true}
				_ = sess.LogDecision(d, domain.SceneSnapshot{}, time.Millisecond, true, nil)
			}
			_, _ = sess.End()
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.History()
				_ = m.GetInsights(0)
				_ = m.ActiveSessions()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, m.History(), 8)
	assert.Empty(t, m.ActiveSessions())
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	clock := newClock()
	m := monitor.New(monitor.DefaultConfig(), nil, metrics, zap.NewNop(), monitor.WithClock(clock.Now))

	runSession(t, m, clock, "bakery", []int{0, 1, 0}, func(i int) bool { return i != 1 })

	count, err := testutil.GatherAndCount(reg, "improv_speaker_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, m.Metrics(), metrics)
}
