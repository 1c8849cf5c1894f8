package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"improv-server/internal/domain"
	"improv-server/internal/monitor"
	"improv-server/internal/orchestrator"
	"improv-server/internal/supervisor"
)

// Settings - настраиваемые параметры сцены. Хранятся под ключом настроек и
// могут загружаться из YAML/JSON файла.
type Settings struct {
	Supervisor SupervisorSettings `json:"supervisor" yaml:"supervisor"`
	Dialogue   DialogueSettings   `json:"dialogue" yaml:"dialogue"`
	Prompts    PromptTemplates    `json:"prompts" yaml:"prompts"`
	Monitor    MonitorSettings    `json:"monitor" yaml:"monitor"`
}

type SupervisorSettings struct {
	Strategy              string  `json:"strategy" yaml:"strategy"`
	PacingSpeed           string  `json:"pacingSpeed" yaml:"pacingSpeed"`
	Personality           string  `json:"personality" yaml:"personality"`
	ParticipationBalance  string  `json:"participationBalance" yaml:"participationBalance"`
	TransitionSensitivity string  `json:"transitionSensitivity" yaml:"transitionSensitivity"`
	MaxConsecutiveTurns   int     `json:"maxConsecutiveTurns" yaml:"maxConsecutiveTurns"`
	InteractionWeight     float64 `json:"interactionWeight" yaml:"interactionWeight"`
	DramaticTimingWeight  float64 `json:"dramaticTimingWeight" yaml:"dramaticTimingWeight"`
	DecisionTimeoutMs     int     `json:"decisionTimeoutMs" yaml:"decisionTimeoutMs"`
	RecentWindow          int     `json:"recentWindow" yaml:"recentWindow"`
	UnderutilizationRatio float64 `json:"underutilizationRatio" yaml:"underutilizationRatio"`
	OverutilizationRatio  float64 `json:"overutilizationRatio" yaml:"overutilizationRatio"`
	PromptTemplate        string  `json:"promptTemplate" yaml:"promptTemplate"`
}

type DialogueSettings struct {
	SceneLength         int     `json:"sceneLength" yaml:"sceneLength"`
	MaxLines            int     `json:"maxLines" yaml:"maxLines"`
	PauseMs             int     `json:"pauseMs" yaml:"pauseMs"`
	DurationSec         int     `json:"durationSec" yaml:"durationSec"`
	MaxTokens           int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature         float64 `json:"temperature" yaml:"temperature"`
	GenerationTimeoutMs int     `json:"generationTimeoutMs" yaml:"generationTimeoutMs"`
	SpeechTimeoutMs     int     `json:"speechTimeoutMs" yaml:"speechTimeoutMs"`
	PerformanceMode     string  `json:"performanceMode" yaml:"performanceMode"`
}

// PromptTemplates используют плейсхолдеры {name}.
type PromptTemplates struct {
	FirstLine          string `json:"firstLineInstructions" yaml:"firstLineInstructions"`
	SecondLine         string `json:"secondLineInstructions" yaml:"secondLineInstructions"`
	Continuation       string `json:"continuationInstructions" yaml:"continuationInstructions"`
	Main               string `json:"mainPromptTemplate" yaml:"mainPromptTemplate"`
	System             string `json:"systemPromptTemplate" yaml:"systemPromptTemplate"`
	MaxWords           int    `json:"maxWords" yaml:"maxWords"`
	SceneEstablishText string `json:"sceneEstablishText" yaml:"sceneEstablishText"`
	SceneBuildText     string `json:"sceneBuildText" yaml:"sceneBuildText"`
}

type MonitorSettings struct {
	HistoryLimit      int     `json:"historyLimit" yaml:"historyLimit"`
	InsightsWindow    int     `json:"insightsWindow" yaml:"insightsWindow"`
	VarianceThreshold float64 `json:"varianceThreshold" yaml:"varianceThreshold"`
	MinSuccessRate    float64 `json:"minSuccessRate" yaml:"minSuccessRate"`
	MaxLatencyMs      int     `json:"maxLatencyMs" yaml:"maxLatencyMs"`
	UnbalancedShare   float64 `json:"unbalancedShare" yaml:"unbalancedShare"`
}

// DefaultSettings возвращает встроенные настройки.
func DefaultSettings() Settings {
	return Settings{
		Supervisor: SupervisorSettings{
			Strategy:              string(supervisor.ContextDriven),
			PacingSpeed:           "medium",
			Personality:           "improv-coach",
			ParticipationBalance:  "strict",
			TransitionSensitivity: "medium",
			MaxConsecutiveTurns:   2,
			InteractionWeight:     0.7,
			DramaticTimingWeight:  0.5,
			DecisionTimeoutMs:     8000,
			RecentWindow:          6,
			UnderutilizationRatio: 0.7,
			OverutilizationRatio:  1.3,
			PromptTemplate:        DefaultSupervisorPrompt,
		},
		Dialogue: DialogueSettings{
			SceneLength:         12,
			MaxLines:            25,
			PauseMs:             1500,
			DurationSec:         300,
			MaxTokens:           150,
			Temperature:         0.8,
			GenerationTimeoutMs: 10000,
			SpeechTimeoutMs:     10000,
			PerformanceMode:     string(orchestrator.ModeAIOnly),
		},
		Prompts: DefaultPromptTemplates(),
		Monitor: MonitorSettings{
			HistoryLimit:      10,
			InsightsWindow:    5,
			VarianceThreshold: 100,
			MinSuccessRate:    0.8,
			MaxLatencyMs:      3000,
			UnbalancedShare:   0.6,
		},
	}
}

// LoadSettings читает YAML или JSON файл поверх значений по умолчанию. Пустой путь возвращает значения по умолчанию.
// Некорректные значения исправляются и возвращаются как предупреждения.
func LoadSettings(path string) (Settings, []error, error) {
	s := DefaultSettings()
	if strings.TrimSpace(path) == "" {
		return s, nil, nil
	}
	if err := cleanenv.ReadConfig(path, &s); err != nil {
		return DefaultSettings(), nil, fmt.Errorf("%w: read settings file %s: %w", domain.ErrConfiguration, path, err)
	}
	warnings := s.Normalize()
	return s, warnings, nil
}

type checker struct {
	errs []error
}

func (c *checker) fail(field string, got interface{}, want string) {
	c.errs = append(c.errs, fmt.Errorf("%w: %s=%v, want %s", domain.ErrConfiguration, field, got, want))
}

func (c *checker) oneOf(field string, v *string, def string, allowed ...string) {
	norm := strings.ToLower(strings.TrimSpace(*v))
	for _, a := range allowed {
		if norm == a {
			*v = norm
			return
		}
	}
	c.fail(field, *v, "one of "+strings.Join(allowed, "|"))
	*v = def
}

func (c *checker) intRange(field string, v *int, def, lo, hi int) {
	if *v < lo || *v > hi {
		c.fail(field, *v, fmt.Sprintf("%d..%d", lo, hi))
		*v = def
	}
}

func (c *checker) floatRange(field string, v *float64, def, lo, hi float64) {
	if *v < lo || *v > hi {
		c.fail(field, *v, fmt.Sprintf("%g..%g", lo, hi))
		*v = def
	}
}

func (c *checker) text(field string, v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		c.fail(field, "\"\"", "non-empty text")
		*v = def
	}
}

// Normalize возвращает каждое значение вне диапазона к значению по умолчанию и отдает
// по одной ConfigurationError на исправленное поле. Ошибкой не завершается.
func (s *Settings) Normalize() []error {
	d := DefaultSettings()
	c := &checker{}

	sv, dsv := &s.Supervisor, d.Supervisor
	c.oneOf("supervisor.strategy", &sv.Strategy, dsv.Strategy,
		string(supervisor.RoundRobin), string(supervisor.WeightedRandom), string(supervisor.ContextDriven))
	c.oneOf("supervisor.pacingSpeed", &sv.PacingSpeed, dsv.PacingSpeed, "fast", "medium", "slow")
	c.oneOf("supervisor.personality", &sv.Personality, dsv.Personality, "improv-coach", "playwright", "director", "natural")
	c.oneOf("supervisor.participationBalance", &sv.ParticipationBalance, dsv.ParticipationBalance, "strict", "loose", "natural")
	c.oneOf("supervisor.transitionSensitivity", &sv.TransitionSensitivity, dsv.TransitionSensitivity, "low", "medium", "high")
	c.intRange("supervisor.maxConsecutiveTurns", &sv.MaxConsecutiveTurns, dsv.MaxConsecutiveTurns, 1, 10)
	c.floatRange("supervisor.interactionWeight", &sv.InteractionWeight, dsv.InteractionWeight, 0, 1)
	c.floatRange("supervisor.dramaticTimingWeight", &sv.DramaticTimingWeight, dsv.DramaticTimingWeight, 0, 1)
	c.intRange("supervisor.decisionTimeoutMs", &sv.DecisionTimeoutMs, dsv.DecisionTimeoutMs, 1, int(supervisor.MaxDecisionTimeout.Milliseconds()))
	c.intRange("supervisor.recentWindow", &sv.RecentWindow, dsv.RecentWindow, 1, 50)
	if sv.UnderutilizationRatio <= 0 || sv.UnderutilizationRatio >= 1 {
		c.fail("supervisor.underutilizationRatio", sv.UnderutilizationRatio, "between 0 and 1 exclusive")
		sv.UnderutilizationRatio = dsv.UnderutilizationRatio
	}
	if sv.OverutilizationRatio <= 1 || sv.OverutilizationRatio > 5 {
		c.fail("supervisor.overutilizationRatio", sv.OverutilizationRatio, "above 1 and at most 5")
		sv.OverutilizationRatio = dsv.OverutilizationRatio
	}
	c.text("supervisor.promptTemplate", &sv.PromptTemplate, dsv.PromptTemplate)

	dl, ddl := &s.Dialogue, d.Dialogue
	c.intRange("dialogue.sceneLength", &dl.SceneLength, ddl.SceneLength, 2, 100)
	c.intRange("dialogue.maxLines", &dl.MaxLines, ddl.MaxLines, 1, 200)
	c.intRange("dialogue.pauseMs", &dl.PauseMs, ddl.PauseMs, 0, 60000)
	c.intRange("dialogue.durationSec", &dl.DurationSec, ddl.DurationSec, 10, 3600)
	c.intRange("dialogue.maxTokens", &dl.MaxTokens, ddl.MaxTokens, 1, 4096)
	c.floatRange("dialogue.temperature", &dl.Temperature, ddl.Temperature, 0, 2)
	c.intRange("dialogue.generationTimeoutMs", &dl.GenerationTimeoutMs, ddl.GenerationTimeoutMs, 1, 60000)
	c.intRange("dialogue.speechTimeoutMs", &dl.SpeechTimeoutMs, ddl.SpeechTimeoutMs, 1, 60000)
	c.oneOf("dialogue.performanceMode", &dl.PerformanceMode, ddl.PerformanceMode, string(orchestrator.ModeAIOnly), string(orchestrator.ModeMixed))

	p, dp := &s.Prompts, d.Prompts
	c.text("prompts.firstLineInstructions", &p.FirstLine, dp.FirstLine)
	c.text("prompts.secondLineInstructions", &p.SecondLine, dp.SecondLine)
	c.text("prompts.continuationInstructions", &p.Continuation, dp.Continuation)
	c.text("prompts.mainPromptTemplate", &p.Main, dp.Main)
	c.text("prompts.systemPromptTemplate", &p.System, dp.System)
	c.intRange("prompts.maxWords", &p.MaxWords, dp.MaxWords, 1, 200)
	c.text("prompts.sceneEstablishText", &p.SceneEstablishText, dp.SceneEstablishText)
	c.text("prompts.sceneBuildText", &p.SceneBuildText, dp.SceneBuildText)

	m, dm := &s.Monitor, d.Monitor
	c.intRange("monitor.historyLimit", &m.HistoryLimit, dm.HistoryLimit, 1, 1000)
	c.intRange("monitor.insightsWindow", &m.InsightsWindow, min(dm.InsightsWindow, m.HistoryLimit), 1, m.HistoryLimit)
	if m.VarianceThreshold <= 0 {
		c.fail("monitor.varianceThreshold", m.VarianceThreshold, "positive")
		m.VarianceThreshold = dm.VarianceThreshold
	}
	if m.MinSuccessRate <= 0 || m.MinSuccessRate > 1 {
		c.fail("monitor.minSuccessRate", m.MinSuccessRate, "0 < rate <= 1")
		m.MinSuccessRate = dm.MinSuccessRate
	}
	c.intRange("monitor.maxLatencyMs", &m.MaxLatencyMs, dm.MaxLatencyMs, 1, 600000)
	if m.UnbalancedShare <= 0 || m.UnbalancedShare > 1 {
		c.fail("monitor.unbalancedShare", m.UnbalancedShare, "0 < share <= 1")
		m.UnbalancedShare = dm.UnbalancedShare
	}

	return c.errs
}

// Validate - строгая проверка: сообщает о каждом некорректном поле, не меняя s.
func (s Settings) Validate() error {
	cp := s
	return errors.Join(cp.Normalize()...)
}

// SettingsOverrides - частичное обновление. Применяются только не-nil поля.
type SettingsOverrides struct {
	Strategy          *string  `json:"strategy,omitempty"`
	PacingSpeed       *string  `json:"pacingSpeed,omitempty"`
	Personality       *string  `json:"personality,omitempty"`
	DecisionTimeoutMs *int     `json:"decisionTimeoutMs,omitempty"`
	SceneLength       *int     `json:"sceneLength,omitempty"`
	MaxLines          *int     `json:"maxLines,omitempty"`
	PauseMs           *int     `json:"pauseMs,omitempty"`
	DurationSec       *int     `json:"durationSec,omitempty"`
	MaxTokens         *int     `json:"maxTokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	PerformanceMode   *string  `json:"performanceMode,omitempty"`
}

// Apply накладывает o на копию s и нормализует результат.
func (s Settings) Apply(o SettingsOverrides) (Settings, []error) {
	out := s
	setStr(&out.Supervisor.Strategy, o.Strategy)
	setStr(&out.Supervisor.PacingSpeed, o.PacingSpeed)
	setStr(&out.Supervisor.Personality, o.Personality)
	setInt(&out.Supervisor.DecisionTimeoutMs, o.DecisionTimeoutMs)
	setInt(&out.Dialogue.SceneLength, o.SceneLength)
	setInt(&out.Dialogue.MaxLines, o.MaxLines)
	setInt(&out.Dialogue.PauseMs, o.PauseMs)
	setInt(&out.Dialogue.DurationSec, o.DurationSec)
	setInt(&out.Dialogue.MaxTokens, o.MaxTokens)
	if o.Temperature != nil {
		out.Dialogue.Temperature = *o.Temperature
	}
	setStr(&out.Dialogue.PerformanceMode, o.PerformanceMode)
	warnings := out.Normalize()
	return out, warnings
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// SelectorConfig преобразует настройки супервизора.
func (s Settings) SelectorConfig() supervisor.Config {
	return supervisor.Config{
		Strategy:        supervisor.Strategy(s.Supervisor.Strategy),
		DecisionTimeout: time.Duration(s.Supervisor.DecisionTimeoutMs) * time.Millisecond,
		RecentWindow:    s.Supervisor.RecentWindow,
	}
}

// OrchestratorConfig преобразует настройки диалога.
func (s Settings) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Duration:          time.Duration(s.Dialogue.DurationSec) * time.Second,
		MaxLines:          s.Dialogue.MaxLines,
		Pause:             time.Duration(s.Dialogue.PauseMs) * time.Millisecond,
		GenerationTimeout: time.Duration(s.Dialogue.GenerationTimeoutMs) * time.Millisecond,
		SpeechTimeout:     time.Duration(s.Dialogue.SpeechTimeoutMs) * time.Millisecond,
		Mode:              orchestrator.Mode(s.Dialogue.PerformanceMode),
	}
}

// MonitorConfig преобразует настройки монитора.
func (s Settings) MonitorConfig() monitor.Config {
	return monitor.Config{
		HistoryLimit:      s.Monitor.HistoryLimit,
		InsightsWindow:    s.Monitor.InsightsWindow,
		VarianceThreshold: s.Monitor.VarianceThreshold,
		MinSuccessRate:    s.Monitor.MinSuccessRate,
		MaxLatency:        time.Duration(s.Monitor.MaxLatencyMs) * time.Millisecond,
		UnbalancedShare:   s.Monitor.UnbalancedShare,
	}
}
