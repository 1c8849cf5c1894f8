package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/monitor"
	"improv-server/internal/service"
)

// SceneService - testify мок сервиса сцен в том виде, в каком его видят HTTP обработчики.
type SceneService struct {
	mock.Mock
}

func (m *SceneService) Settings() config.Settings {
	return m.Called().Get(0).(config.Settings)
}

func (m *SceneService) UpdateSettings(ctx context.Context, next config.Settings) (config.Settings, error) {
	args := m.Called(ctx, next)
	return args.Get(0).(config.Settings), args.Error(1)
}

func (m *SceneService) Characters(ctx context.Context) []domain.Character {
	v, _ := m.Called(ctx).Get(0).([]domain.Character)
	return v
}

func (m *SceneService) StartScene(ctx context.Context, req service.StartSceneRequest) (service.SceneInfo, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(service.SceneInfo), args.Error(1)
}

func (m *SceneService) StopScene(id string) (service.SceneInfo, error) {
	args := m.Called(id)
	return args.Get(0).(service.SceneInfo), args.Error(1)
}

func (m *SceneService) GetScene(id string) (service.SceneInfo, error) {
	args := m.Called(id)
	return args.Get(0).(service.SceneInfo), args.Error(1)
}

func (m *SceneService) ListScenes() []service.SceneInfo {
	v, _ := m.Called().Get(0).([]service.SceneInfo)
	return v
}

func (m *SceneService) SubmitHumanLine(id, text string) error {
	return m.Called(id, text).Error(0)
}

// MonitorService - testify мок монитора в том виде, в каком его видят HTTP обработчики.
type MonitorService struct {
	mock.Mock
}

func (m *MonitorService) History() []monitor.SessionSummary {
	v, _ := m.Called().Get(0).([]monitor.SessionSummary)
	return v
}

func (m *MonitorService) ActiveSessions() []monitor.SessionStatistics {
	v, _ := m.Called().Get(0).([]monitor.SessionStatistics)
	return v
}

func (m *MonitorService) GetInsights(lastN int) *monitor.Insights {
	v, _ := m.Called(lastN).Get(0).(*monitor.Insights)
	return v
}

func (m *MonitorService) Export(w io.Writer) error {
	return m.Called(w).Error(0)
}

func (m *MonitorService) Import(r io.Reader) error {
	return m.Called(r).Error(0)
}

func (m *MonitorService) Clear() {
	m.Called()
}

func (m *MonitorService) Persist(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
