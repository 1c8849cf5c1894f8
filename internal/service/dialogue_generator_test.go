package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/mocks"
	"improv-server/internal/orchestrator"
	"improv-server/internal/scene"
	"improv-server/internal/service"
	"improv-server/pkg/ai"
)

var (
	alice = domain.Character{Name: "Alice", Personality: "an anxious lighthouse keeper", Catchphrases: []string{"Oh dear"}}
	bob   = domain.Character{Name: "Bob", Personality: "a pirate who hates water"}
	carol = domain.Character{Name: "Carol", Personality: "a cheerful ghost"}
)

func newRequest(t *testing.T, lines ...string) orchestrator.GenerationRequest {
	t.Helper()
	st, err := scene.New([]domain.Character{alice, bob, carol}, "lighthouse")
	require.NoError(t, err)
	speakers := []domain.Character{bob, carol}
	for i, l := range lines {
		_, err := st.CommitLine(speakers[i%2], l)
		require.NoError(t, err)
	}
	snap := st.Snapshot()
	return orchestrator.GenerationRequest{
		Speaker:  alice,
		Others:   []domain.Character{bob, carol},
		Theme:    "lighthouse",
		Snapshot: snap,
		Hints:    orchestrator.BuildHints(domain.SpeakerDecision{Speaker: alice, Reason: "quiet"}, snap),
	}
}

func newGenerator(client ai.Client) *service.DialogueGenerator {
	s := config.DefaultSettings()
	return service.NewDialogueGenerator(client, s.Prompts, s.Dialogue, zap.NewNop())
}

func TestDialogueGeneratorPrompts(t *testing.T) {
	gen := newGenerator(&mocks.AIClient{})

	t.Run("first line", func(t *testing.T) {
		system, user := gen.BuildPrompts(newRequest(t))
		assert.Contains(t, system, "Alice")
		assert.Contains(t, system, "3-person scene")
		assert.Contains(t, user, "Bob, Carol")
		assert.Contains(t, user, "lighthouse")
		assert.Contains(t, user, "Oh dear")
		assert.NotContains(t, user, "{promptInstructions}")
		assert.NotContains(t, user, "{sceneDirection}")
	})

	t.Run("continuation quotes the last line", func(t *testing.T) {
		_, user := gen.BuildPrompts(newRequest(t, "Ahoy!", "Boo!", "Arr, the sea is wet."))
		assert.Contains(t, user, "Arr, the sea is wet.")
		assert.Contains(t, user, "Scene phase: development")
	})
}

func TestDialogueGeneratorGenerate(t *testing.T) {
	t.Run("cleans the reply", func(t *testing.T) {
		client := &mocks.AIClient{}
		client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(p ai.GenerationParams) bool {
			return p.Temperature != nil && p.MaxTokens != nil
		})).Return(`Alice: "Oh dear, the lamp is out!"`, ai.UsageInfo{TotalTokens: 42}, nil).Once()

		line, err := newGenerator(client).Generate(context.Background(), newRequest(t))
		require.NoError(t, err)
		assert.Equal(t, "Oh dear, the lamp is out!", line)
		client.AssertExpectations(t)
	})

	t.Run("backend failure", func(t *testing.T) {
		client := &mocks.AIClient{}
		client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", ai.UsageInfo{}, ai.ErrGenerationFailed).Once()

		_, err := newGenerator(client).Generate(context.Background(), newRequest(t))
		assert.ErrorIs(t, err, domain.ErrGeneration)
		assert.True(t, errors.Is(err, ai.ErrGenerationFailed))
	})

	t.Run("empty reply", func(t *testing.T) {
		client := &mocks.AIClient{}
		client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("  \"\" ", ai.UsageInfo{}, nil).Once()

		_, err := newGenerator(client).Generate(context.Background(), newRequest(t))
		assert.ErrorIs(t, err, domain.ErrGeneration)
	})
}
