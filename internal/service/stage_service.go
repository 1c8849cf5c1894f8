package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/messaging"
	"improv-server/internal/monitor"
	"improv-server/internal/orchestrator"
	"improv-server/internal/repository"
	"improv-server/internal/scene"
	"improv-server/internal/supervisor"
	"improv-server/pkg/ai"
	"improv-server/pkg/taskmanager"
)

const pregenerateTimeout = 30 * time.Second

// Pregenerator реализуют выводы речи, умеющие прогревать кэш фраз.
type Pregenerator interface {
	Pregenerate(ctx context.Context, characters []domain.Character) int
}

// StartSceneRequest запускает сцену с заданными персонажами (ID или имена) и словом от зрителей.
type StartSceneRequest struct {
	Characters []string                 `json:"characters"`
	Theme      string                   `json:"theme"`
	Overrides  config.SettingsOverrides `json:"overrides"`
}

// SceneInfo - внешнее представление зарегистрированной сцены.
type SceneInfo struct {
	SceneID     string               `json:"sceneId"`
	TaskID      string               `json:"taskId"`
	Status      orchestrator.Status  `json:"status"`
	Mode        orchestrator.Mode    `json:"mode"`
	Strategy    string               `json:"strategy"`
	Theme       string               `json:"theme"`
	Characters  []string             `json:"characters"`
	StartedAt   time.Time            `json:"startedAt"`
	RemainingMs int64                `json:"remainingMs"`
	Snapshot    domain.SceneSnapshot `json:"snapshot"`
	Result      *orchestrator.Result `json:"result,omitempty"`
}

// StageDeps - общие зависимости всех сцен. Speech, Voice, Observer и Publisher необязательны.
type StageDeps struct {
	AI         ai.Client
	Monitor    *monitor.Monitor
	Settings   *repository.SettingsRepository
	Characters *repository.CharacterRepository
	Tasks      *taskmanager.TaskManager
	Speech     orchestrator.SpeechOutput
	Voice      orchestrator.VoiceEvents
	Observer   orchestrator.Observer
	Publisher  messaging.SummaryPublisher
	Logger     *zap.Logger
}

type stageScene struct {
	orch      *orchestrator.Orchestrator
	taskID    uuid.UUID
	theme     string
	strategy  string
	startedAt time.Time

	mu       sync.Mutex
	result   *orchestrator.Result
	finished time.Time
}

// StageService - реестр идущих и завершенных сцен.
type StageService struct {
	deps     StageDeps
	defaults config.Settings
	logger   *zap.Logger

	mu       sync.RWMutex
	settings config.Settings
	scenes   map[string]*stageScene
}

func NewStageService(deps StageDeps, defaults config.Settings) (*StageService, error) {
	if deps.AI == nil || deps.Monitor == nil || deps.Tasks == nil || deps.Settings == nil || deps.Characters == nil {
		return nil, fmt.Errorf("%w: stage service is missing a dependency", domain.ErrConfiguration)
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &StageService{
		deps:     deps,
		defaults: defaults,
		settings: defaults,
		scenes:   make(map[string]*stageScene),
		logger:   deps.Logger.Named("StageService"),
	}, nil
}

// LoadSettings заменяет текущие настройки сохраненными.
func (s *StageService) LoadSettings(ctx context.Context) config.Settings {
	loaded := s.deps.Settings.Load(ctx, s.defaults)
	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
	return loaded
}

func (s *StageService) Settings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings строго проверяет и сохраняет. Новые настройки действуют на сцены, запущенные позже;
// ошибка сохранения возвращается вместе с примененными настройками.
func (s *StageService) UpdateSettings(ctx context.Context, next config.Settings) (config.Settings, error) {
	if err := next.Validate(); err != nil {
		return s.Settings(), err
	}
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()

	if err := s.deps.Settings.Save(ctx, next); err != nil {
		s.logger.Warn("Settings applied but not persisted", zap.Error(err))
		return next, err
	}
	return next, nil
}

func (s *StageService) Characters(ctx context.Context) []domain.Character {
	return s.deps.Characters.List(ctx)
}

// StartScene собирает сцену из текущих настроек и req.Overrides и запускает ее в task manager.
func (s *StageService) StartScene(ctx context.Context, req StartSceneRequest) (SceneInfo, error) {
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		return SceneInfo{}, fmt.Errorf("%w: theme is required", domain.ErrConfiguration)
	}
	if len(req.Characters) == 0 {
		return SceneInfo{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, domain.ErrEmptyRoster)
	}

	settings, warnings := s.Settings().Apply(req.Overrides)
	for _, w := range warnings {
		s.logger.Warn("Scene setting corrected", zap.Error(w))
	}

	chars, err := s.deps.Characters.Resolve(ctx, req.Characters)
	if err != nil {
		return SceneInfo{}, err
	}
	mode := orchestrator.Mode(settings.Dialogue.PerformanceMode)
	if mode == orchestrator.ModeMixed {
		chars = append(chars, domain.HumanPerformer())
	}

	state, err := scene.New(chars, theme,
		scene.WithTargetLines(settings.Dialogue.SceneLength),
		scene.WithUtilizationRatios(settings.Supervisor.UnderutilizationRatio, settings.Supervisor.OverutilizationRatio),
	)
	if err != nil {
		return SceneInfo{}, err
	}

	selector := supervisor.NewSelector(settings.SelectorConfig(),
		NewLLMDecisionProvider(s.deps.AI, settings.Supervisor, settings.Dialogue, s.deps.Logger),
		s.deps.Logger)

	orch, err := orchestrator.New(settings.OrchestratorConfig(), state, orchestrator.Deps{
		Selector:  selector,
		Generator: NewDialogueGenerator(s.deps.AI, settings.Prompts, settings.Dialogue, s.deps.Logger),
		Speech:    s.deps.Speech,
		Voice:     s.deps.Voice,
		Monitor:   s.deps.Monitor,
		Observer:  s.deps.Observer,
		Logger:    s.deps.Logger,
	})
	if err != nil {
		return SceneInfo{}, err
	}

	entry := &stageScene{
		orch:      orch,
		theme:     theme,
		strategy:  string(selector.Strategy()),
		startedAt: time.Now().UTC(),
	}

	// регистрируем под блокировкой, чтобы быстрая сцена не завершилась раньше, чем попадет в список
	s.mu.Lock()
	taskID, err := s.deps.Tasks.SubmitTask(ctx, "scene:"+orch.SceneID(), func(taskCtx context.Context) (interface{}, error) {
		return s.runScene(taskCtx, entry, chars)
	})
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, taskmanager.ErrTooManyTasks) {
			return SceneInfo{}, fmt.Errorf("%w: too many concurrent scenes", domain.ErrInvalidState)
		}
		return SceneInfo{}, err
	}
	entry.taskID = taskID
	s.scenes[orch.SceneID()] = entry
	s.mu.Unlock()

	s.logger.Info("Scene submitted",
		zap.String("sceneID", orch.SceneID()),
		zap.String("taskID", taskID.String()),
		zap.String("theme", theme),
		zap.Strings("characters", domain.CharacterNames(chars)),
		zap.String("strategy", entry.strategy),
		zap.String("mode", string(mode)),
	)
	return s.info(entry), nil
}

func (s *StageService) runScene(ctx context.Context, entry *stageScene, chars []domain.Character) (interface{}, error) {
	if p, ok := s.deps.Speech.(Pregenerator); ok {
		pctx, cancel := context.WithTimeout(ctx, pregenerateTimeout)
		n := p.Pregenerate(pctx, chars)
		cancel()
		s.logger.Debug("Phrases pregenerated", zap.String("sceneID", entry.orch.SceneID()), zap.Int("count", n))
	}

	res, err := entry.orch.Run(ctx)
	started := err == nil
	if err != nil {
		// остановлена до начала цикла
		if entry.orch.Status() != orchestrator.StatusCancelled {
			return nil, err
		}
		res = orchestrator.Result{SceneID: entry.orch.SceneID(), Status: orchestrator.StatusCancelled, Reason: orchestrator.ReasonStopped}
	}

	entry.mu.Lock()
	entry.result = &res
	entry.finished = time.Now()
	entry.mu.Unlock()

	// контекст задачи может быть уже отменен при остановке сервера
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	payload := messaging.SceneFinishedPayload{
		SceneID:    res.SceneID,
		Status:     string(res.Status),
		Reason:     res.Reason,
		TotalLines: len(res.Lines),
		FinishedAt: entry.finished.UTC(),
	}
	if started {
		summary := res.Summary
		payload.Summary = &summary
	}
	if err := s.deps.Publisher.PublishSceneFinished(finishCtx, payload); err != nil {
		s.logger.Warn("Scene summary not published", zap.String("sceneID", res.SceneID), zap.Error(err))
	}
	if err := s.deps.Monitor.Persist(finishCtx); err != nil {
		s.logger.Warn("Monitor history not persisted", zap.String("sceneID", res.SceneID), zap.Error(err))
	}
	return res, nil
}

// StopScene просит идущую сцену остановиться. Возвращается сразу; сцена завершится до следующего хода.
func (s *StageService) StopScene(id string) (SceneInfo, error) {
	entry, err := s.get(id)
	if err != nil {
		return SceneInfo{}, err
	}
	if st := entry.orch.Status(); st == orchestrator.StatusEnded || st == orchestrator.StatusCancelled {
		return s.info(entry), fmt.Errorf("%w: scene is %s", domain.ErrInvalidState, st)
	}
	entry.orch.Stop()
	s.logger.Info("Scene stop requested", zap.String("sceneID", id))
	return s.info(entry), nil
}

func (s *StageService) GetScene(id string) (SceneInfo, error) {
	entry, err := s.get(id)
	if err != nil {
		return SceneInfo{}, err
	}
	return s.info(entry), nil
}

// ListScenes возвращает все зарегистрированные сцены, новые первыми.
func (s *StageService) ListScenes() []SceneInfo {
	s.mu.RLock()
	entries := make([]*stageScene, 0, len(s.scenes))
	for _, e := range s.scenes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]SceneInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.info(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *StageService) SubmitHumanLine(id, text string) error {
	entry, err := s.get(id)
	if err != nil {
		return err
	}
	return entry.orch.SubmitHumanLine(text)
}

// Cleanup забывает сцены, завершившиеся раньше чем age назад.
func (s *StageService) Cleanup(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.scenes {
		e.mu.Lock()
		old := e.result != nil && time.Since(e.finished) > age
		e.mu.Unlock()
		if old {
			delete(s.scenes, id)
			removed++
		}
	}
	if removed > 0 {
		s.deps.Tasks.CleanupTasks(age)
	}
	return removed
}

// Shutdown останавливает все сцены и ждет их завершения.
func (s *StageService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, e := range s.scenes {
		e.orch.Stop()
	}
	s.mu.RUnlock()
	return s.deps.Tasks.Shutdown(ctx)
}

func (s *StageService) get(id string) (*stageScene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.scenes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSceneNotFound, id)
	}
	return e, nil
}

func (s *StageService) info(e *stageScene) SceneInfo {
	snap := e.orch.LatestSnapshot()
	info := SceneInfo{
		SceneID:     e.orch.SceneID(),
		TaskID:      e.taskID.String(),
		Status:      e.orch.Status(),
		Mode:        e.orch.Mode(),
		Strategy:    e.strategy,
		Theme:       e.theme,
		Characters:  domain.CharacterNames(snap.Roster),
		StartedAt:   e.startedAt,
		RemainingMs: e.orch.Remaining().Milliseconds(),
		Snapshot:    snap,
	}
	e.mu.Lock()
	if e.result != nil {
		r := *e.result
		info.Result = &r
	}
	e.mu.Unlock()
	return info
}
