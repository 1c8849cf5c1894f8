// Package orchestrator ведет цикл ходов одной сцены.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/monitor"
	"improv-server/internal/scene"
	"improv-server/internal/speech"
	"improv-server/internal/supervisor"
)

// Status - стадия жизненного цикла сцены.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Mode определяет, кто выступает.
type Mode string

const (
	ModeAIOnly Mode = "ai-only"
	ModeMixed  Mode = "mixed"
)

// Причины завершения.
const (
	ReasonTimeUp    = "time_up"
	ReasonLineLimit = "line_limit"
	ReasonStopped   = "stopped"
)

const (
	DefaultDuration          = 300 * time.Second
	DefaultMaxLines          = 25
	DefaultPause             = 1500 * time.Millisecond
	DefaultGenerationTimeout = 10 * time.Second
	DefaultSpeechTimeout     = 10 * time.Second

	humanQueueSize = 16
)

// Config - конфигурация запуска сцены.
type Config struct {
	Duration          time.Duration
	MaxLines          int
	Pause             time.Duration
	GenerationTimeout time.Duration
	SpeechTimeout     time.Duration
	Mode              Mode
}

func (c Config) withDefaults() Config {
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.MaxLines <= 0 {
		c.MaxLines = DefaultMaxLines
	}
	if c.Pause < 0 {
		c.Pause = DefaultPause
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = DefaultSpeechTimeout
	}
	if c.Mode != ModeMixed {
		c.Mode = ModeAIOnly
	}
	return c
}

// Hints направляют генератор контента на один ход.
type Hints struct {
	Reason     string                 `json:"reason"`
	SceneNote  string                 `json:"sceneNote,omitempty"`
	Phase      domain.ScenePhase      `json:"phase"`
	Objectives []string               `json:"objectives"`
	Pacing     *domain.PacingIssue    `json:"pacing,omitempty"`
	Energy     domain.Energy          `json:"energy"`
	Mood       domain.Mood            `json:"mood"`
	Location   string                 `json:"location"`
	Unusual    *domain.UnusualElement `json:"unusual,omitempty"`
}

// GenerationRequest - все, что генератор получает для одной реплики.
type GenerationRequest struct {
	Speaker  domain.Character
	Others   []domain.Character
	Theme    string
	Snapshot domain.SceneSnapshot
	Hints    Hints
}

// Generator создает следующую реплику диалога.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// SpeechOutput озвучивает зафиксированную реплику. Ошибки не доходят до цикла ходов.
type SpeechOutput interface {
	Speak(ctx context.Context, u speech.Utterance) error
}

// Interrupter реализуют выводы речи с поддержкой barge-in.
type Interrupter interface {
	Interrupt(sceneID string)
}

// VoiceEvents - источник голосовых событий клиентов в смешанном режиме.
type VoiceEvents interface {
	Subscribe(kind speech.EventKind, h speech.Handler) func()
}

// Observer уведомляется из горутины цикла ходов. Реализации не должны блокировать.
type Observer interface {
	SceneStateChanged(sceneID string, status Status, snap domain.SceneSnapshot)
	SpeakerChosen(sceneID string, decision domain.SpeakerDecision)
	LineCommitted(sceneID string, line domain.DialogueLine, snap domain.SceneSnapshot)
}

// Result возвращается из Run, когда сцена достигает конечного состояния.
type Result struct {
	SceneID string                 `json:"sceneId"`
	Status  Status                 `json:"status"`
	Reason  string                 `json:"reason"`
	Lines   []domain.DialogueLine  `json:"lines"`
	Summary monitor.SessionSummary `json:"summary"`
}

// Deps - зависимости Orchestrator. Speech, Voice, Monitor и Observer необязательны.
type Deps struct {
	Selector  *supervisor.Selector
	Generator Generator
	Speech    SpeechOutput
	Voice     VoiceEvents
	Monitor   *monitor.Monitor
	Observer  Observer
	Logger    *zap.Logger
}

// Orchestrator ведет одну сцену: Idle -> Running -> Ended|Cancelled.
type Orchestrator struct {
	cfg      Config
	state    *scene.State
	roster   []domain.Character // AI исполнители, состав для селектора
	selector *supervisor.Selector
	gen      Generator
	speech   SpeechOutput
	voice    VoiceEvents
	mon      *monitor.Monitor
	metrics  *monitor.Metrics
	observer Observer
	logger   *zap.Logger

	mu       sync.RWMutex
	status   Status
	latest   domain.SceneSnapshot
	deadline time.Time

	timeUp   atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	human    chan string
	speechWG sync.WaitGroup
}

// New готовит сцену. Состояние должно быть новым; в смешанном режиме в нем ровно один живой исполнитель.
func New(cfg Config, state *scene.State, deps Deps) (*Orchestrator, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: scene state is required", domain.ErrConfiguration)
	}
	if deps.Selector == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: selector and generator are required", domain.ErrConfiguration)
	}
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var roster []domain.Character
	humans := 0
	for _, c := range state.Roster() {
		if c.Human {
			humans++
			continue
		}
		roster = append(roster, c)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, domain.ErrEmptyRoster)
	}
	if cfg.Mode == ModeMixed && humans != 1 {
		return nil, fmt.Errorf("%w: mixed mode needs exactly one human performer, got %d", domain.ErrConfiguration, humans)
	}

	o := &Orchestrator{
		cfg:      cfg,
		state:    state,
		roster:   roster,
		selector: deps.Selector,
		gen:      deps.Generator,
		speech:   deps.Speech,
		voice:    deps.Voice,
		mon:      deps.Monitor,
		observer: deps.Observer,
		logger:   logger.Named("SceneOrchestrator").With(zap.String("sceneID", state.ID())),
		status:   StatusIdle,
		latest:   state.Snapshot(),
		stopCh:   make(chan struct{}),
		human:    make(chan string, humanQueueSize),
	}
	if deps.Monitor != nil {
		o.metrics = deps.Monitor.Metrics()
	}
	return o, nil
}

// SceneID возвращает идентификатор сцены.
func (o *Orchestrator) SceneID() string { return o.state.ID() }

// Mode возвращает режим выступления.
func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// Status возвращает текущую стадию жизненного цикла.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// LatestSnapshot возвращает снимок после последней зафиксированной реплики.
// Можно вызывать из любой горутины.
func (o *Orchestrator) LatestSnapshot() domain.SceneSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// Remaining - оставшееся время обратного отсчета, ноль если сцена не идет.
func (o *Orchestrator) Remaining() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.status != StatusRunning {
		return 0
	}
	return max(0, time.Until(o.deadline))
}

// Stop запрашивает отмену. Цикл останавливается до следующего хода, результат в полете
// отбрасывается. Остановка сцены в состоянии Idle сразу отменяет ее.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	idle := o.status == StatusIdle
	if idle {
		o.status = StatusCancelled
	}
	snap := o.latest
	o.mu.Unlock()

	if idle {
		o.notifyState(StatusCancelled, snap)
	}
}

// SubmitHumanLine ставит реплику живого исполнителя в очередь на следующий ход.
func (o *Orchestrator) SubmitHumanLine(text string) error {
	if o.cfg.Mode != ModeMixed {
		return fmt.Errorf("%w: scene is not in mixed mode", domain.ErrInvalidState)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty line", domain.ErrConfiguration)
	}
	if st := o.Status(); st == StatusEnded || st == StatusCancelled {
		return fmt.Errorf("%w: scene is %s", domain.ErrInvalidState, st)
	}
	select {
	case o.human <- text:
		return nil
	default:
		return fmt.Errorf("%w: human line queue is full", domain.ErrInvalidState)
	}
}

func (o *Orchestrator) stopped() bool {
	select {
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	snap := o.latest
	o.mu.Unlock()
	o.notifyState(s, snap)
}

func (o *Orchestrator) notifyState(s Status, snap domain.SceneSnapshot) {
	if o.observer != nil {
		o.observer.SceneStateChanged(o.state.ID(), s, snap)
	}
}
