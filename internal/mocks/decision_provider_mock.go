package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"improv-server/internal/domain"
	"improv-server/internal/supervisor"
)

// DecisionProvider - testify мок supervisor.DecisionProvider.
type DecisionProvider struct {
	mock.Mock
}

var _ supervisor.DecisionProvider = (*DecisionProvider)(nil)

func (m *DecisionProvider) Decide(ctx context.Context, snapshot domain.SceneSnapshot, roster []domain.Character, recent []domain.DialogueLine) (supervisor.ProviderDecision, error) {
	args := m.Called(ctx, snapshot, roster, recent)
	d, _ := args.Get(0).(supervisor.ProviderDecision)
	return d, args.Error(1)
}
