package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/mocks"
	"improv-server/internal/scene"
	"improv-server/internal/supervisor"
)

var (
	alice = domain.Character{Name: "Alice"}
	bob   = domain.Character{Name: "Bob"}
	carol = domain.Character{Name: "Carol"}
	dave  = domain.Character{Name: "Dave"}
)

func roster() []domain.Character {
	return []domain.Character{alice, bob, carol, dave}
}

func newScene(t *testing.T) *scene.State {
	t.Helper()
	s, err := scene.New(roster(), "lighthouse")
	require.NoError(t, err)
	return s
}

func seeded() supervisor.Option {
	return supervisor.WithRand(rand.New(rand.NewPCG(42, 7)))
}

func TestParseStrategy(t *testing.T) {
	s, err := supervisor.ParseStrategy(" Round-Robin ")
	require.NoError(t, err)
	assert.Equal(t, supervisor.RoundRobin, s)

	s, err = supervisor.ParseStrategy("dramatic-optimal")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, supervisor.ContextDriven, s)
}

func TestNewSelectorClamps(t *testing.T) {
	t.Run("context driven without provider", func(t *testing.T) {
		sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.ContextDriven}, nil, zap.NewNop())
		assert.Equal(t, supervisor.WeightedRandom, sel.Strategy())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		sel := supervisor.NewSelector(supervisor.Config{Strategy: "chaos"}, &mocks.DecisionProvider{}, nil)
		assert.Equal(t, supervisor.ContextDriven, sel.Strategy())
	})
}

func TestRoundRobin(t *testing.T) {
	ctx := context.Background()
	st := newScene(t)
	sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.RoundRobin}, nil, zap.NewNop())

	d, err := sel.Select(ctx, st.Snapshot(), roster())
	require.NoError(t, err)
	assert.Equal(t, "Alice", d.Speaker.Name)
	assert.True(t, d.UsedPrimary)
	assert.Equal(t, string(supervisor.RoundRobin), d.Strategy)
	assert.Nil(t, d.Error)

	_, err = st.CommitLine(d.Speaker, "Hello")
	require.NoError(t, err)

	d, err = sel.Select(ctx, st.Snapshot(), roster())
	require.NoError(t, err)
	assert.Equal(t, "Bob", d.Speaker.Name)

	t.Run("wraps around", func(t *testing.T) {
		_, err := st.CommitLine(dave, "Last in line")
		require.NoError(t, err)
		d, err := sel.Select(ctx, st.Snapshot(), roster())
		require.NoError(t, err)
		assert.Equal(t, "Alice", d.Speaker.Name)
	})
}

func TestWeightedRandomFavoursQuietCharacters(t *testing.T) {
	snap := domain.SceneSnapshot{
		Stats: map[string]domain.CharacterStat{
			"Alice": {TurnCount: 0},
			"Bob":   {TurnCount: 10},
		},
	}
	pair := []domain.Character{alice, bob}
	sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.WeightedRandom}, nil, zap.NewNop(), seeded())

	counts := map[string]int{}
	for i := 0; i < 6000; i++ {
		d, err := sel.Select(context.Background(), snap, pair)
		require.NoError(t, err)
		counts[d.Speaker.Name]++
	}

	assert.Greater(t, counts["Alice"], counts["Bob"])
	assert.Positive(t, counts["Bob"], "weight never drops to zero")
	// ожидаемое соотношение 5:1
	assert.InDelta(t, 5000, counts["Alice"], 300)
}

func TestSingleSpeakerSkipsProvider(t *testing.T) {
	provider := &mocks.DecisionProvider{}
	sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.ContextDriven}, provider, zap.NewNop())

	d, err := sel.Select(context.Background(), newScene(t).Snapshot(), []domain.Character{carol})
	require.NoError(t, err)
	assert.Equal(t, "Carol", d.Speaker.Name)
	assert.True(t, d.UsedPrimary)
	provider.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSelectRosterErrors(t *testing.T) {
	sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.RoundRobin}, nil, zap.NewNop())

	_, err := sel.Select(context.Background(), newScene(t).Snapshot(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSpeaker)

	_, err = sel.Select(context.Background(), newScene(t).Snapshot(), []domain.Character{alice, {Name: "Mallory"}})
	assert.ErrorIs(t, err, domain.ErrInvalidSpeaker)
}

func TestContextDriven(t *testing.T) {
	ctx := context.Background()

	t.Run("provider choice is used", func(t *testing.T) {
		provider := &mocks.DecisionProvider{}
		provider.On("Decide", mock.Anything, mock.Anything, roster(), mock.Anything).
			Return(supervisor.ProviderDecision{SpeakerName: "carol", Reason: "She has been quiet", SceneNote: "raise stakes"}, nil).Once()

		sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.ContextDriven}, provider, zap.NewNop())
		d, err := sel.Select(ctx, newScene(t).Snapshot(), roster())
		require.NoError(t, err)

		assert.Equal(t, "Carol", d.Speaker.Name)
		assert.Equal(t, "She has been quiet", d.Reason)
		assert.Equal(t, "raise stakes", d.SceneNote)
		assert.True(t, d.UsedPrimary)
		assert.Equal(t, string(supervisor.ContextDriven), d.Strategy)
		assert.Nil(t, d.Error)
		provider.AssertExpectations(t)
	})

	t.Run("only the recent window is sent", func(t *testing.T) {
		st := newScene(t)
		for i := 0; i < 8; i++ {
			_, err := st.CommitLine(roster()[i%4], fmt.Sprintf("line %d", i))
			require.NoError(t, err)
		}
		provider := &mocks.DecisionProvider{}
		provider.On("Decide", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(lines []domain.DialogueLine) bool {
			return len(lines) == 6 && lines[0].Sequence == 3 && lines[5].Sequence == 8
		})).Return(supervisor.ProviderDecision{SpeakerName: "Bob"}, nil).Once()

		sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.ContextDriven}, provider, zap.NewNop())
		d, err := sel.Select(ctx, st.Snapshot(), roster())
		require.NoError(t, err)
		assert.Equal(t, "Bob", d.Speaker.Name)
		assert.Equal(t, "Supervisor decision", d.Reason)
		provider.AssertExpectations(t)
	})

	t.Run("timeout falls back to weighted random", func(t *testing.T) {
		provider := &mocks.DecisionProvider{}
		provider.On("Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				time.Sleep(200 * time.Millisecond)
			}).
			Return(supervisor.ProviderDecision{SpeakerName: "Alice"}, nil).Once()

		sel := supervisor.NewSelector(supervisor.Config{
			Strategy:        supervisor.ContextDriven,
			DecisionTimeout: 20 * time.Millisecond,
		}, provider, zap.NewNop(), seeded())

		start := time.Now()
		d, err := sel.Select(ctx, newScene(t).Snapshot(), roster())
		require.NoError(t, err)

		assert.Less(t, time.Since(start), 150*time.Millisecond)
		assert.False(t, d.UsedPrimary)
		require.NotNil(t, d.Error)
		assert.Equal(t, domain.ErrorKindTimeout, d.Error.Kind)
		assert.Equal(t, string(supervisor.WeightedRandom), d.Strategy)
		assert.Contains(t, domain.CharacterNames(roster()), d.Speaker.Name)
	})

	failures := []struct {
		name     string
		decision supervisor.ProviderDecision
		err      error
		kind     domain.ErrorKind
	}{
		{"unknown name", supervisor.ProviderDecision{SpeakerName: "Zed"}, nil, domain.ErrorKindInvalidSpeaker},
		{"empty name", supervisor.ProviderDecision{}, nil, domain.ErrorKindInvalidSpeaker},
		{"malformed answer", supervisor.ProviderDecision{}, fmt.Errorf("parse: %w", supervisor.ErrMalformedDecision), domain.ErrorKindMalformed},
		{"provider error", supervisor.ProviderDecision{}, errors.New("rate limited"), domain.ErrorKindProvider},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			provider := &mocks.DecisionProvider{}
			provider.On("Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tc.decision, tc.err).Once()

			sel := supervisor.NewSelector(supervisor.Config{Strategy: supervisor.ContextDriven}, provider, zap.NewNop(), seeded())
			d, err := sel.Select(ctx, newScene(t).Snapshot(), roster())
			require.NoError(t, err)

			assert.False(t, d.UsedPrimary)
			require.NotNil(t, d.Error)
			assert.Equal(t, tc.kind, d.Error.Kind)
			assert.NotEmpty(t, d.Error.Message)
			assert.Equal(t, "Weighted random selection (balancing participation)", d.Reason)
			provider.AssertExpectations(t)
		})
	}
}
