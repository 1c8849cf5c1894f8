package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"improv-server/internal/monitor"
)

// HistoryStore - testify мок monitor.HistoryStore.
type HistoryStore struct {
	mock.Mock
}

var _ monitor.HistoryStore = (*HistoryStore)(nil)

func (m *HistoryStore) LoadHistory(ctx context.Context) ([]monitor.SessionSummary, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).([]monitor.SessionSummary)
	return h, args.Error(1)
}

func (m *HistoryStore) SaveHistory(ctx context.Context, history []monitor.SessionSummary) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}
