// Package monitor записывает решения о выборе говорящего и хранит ограниченную историю
// завершенных сцен с выводами по нескольким сессиям.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"improv-server/internal/domain"
)

const exportVersion = 1

// HistoryStore сохраняет итоги завершенных сессий.
type HistoryStore interface {
	LoadHistory(ctx context.Context) ([]SessionSummary, error)
	SaveHistory(ctx context.Context, history []SessionSummary) error
}

// Config - пороги монитора.
type Config struct {
	HistoryLimit      int
	InsightsWindow    int
	VarianceThreshold float64
	MinSuccessRate    float64
	MaxLatency        time.Duration
	UnbalancedShare   float64
}

// DefaultConfig возвращает пороги по умолчанию.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:      10,
		InsightsWindow:    5,
		VarianceThreshold: 100,
		MinSuccessRate:    0.8,
		MaxLatency:        3 * time.Second,
		UnbalancedShare:   0.6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.InsightsWindow <= 0 {
		c.InsightsWindow = d.InsightsWindow
	}
	if c.VarianceThreshold <= 0 {
		c.VarianceThreshold = d.VarianceThreshold
	}
	if c.MinSuccessRate <= 0 || c.MinSuccessRate > 1 {
		c.MinSuccessRate = d.MinSuccessRate
	}
	if c.MaxLatency <= 0 {
		c.MaxLatency = d.MaxLatency
	}
	if c.UnbalancedShare <= 0 || c.UnbalancedShare > 1 {
		c.UnbalancedShare = d.UnbalancedShare
	}
	return c
}

// Option настраивает Monitor.
type Option func(*Monitor)

// WithClock подменяет time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor безопасен для конкурентного использования. Блокировки держатся только на время работы с памятью.
type Monitor struct {
	mu      sync.RWMutex
	cfg     Config
	history []SessionSummary // старые первыми
	active  map[string]*Session

	store   HistoryStore
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New создает монитор. store и metrics могут быть nil.
func New(cfg Config, store HistoryStore, metrics *Metrics, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:     cfg.withDefaults(),
		active:  make(map[string]*Session),
		store:   store,
		metrics: metrics,
		logger:  logger.Named("PerformanceMonitor"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Metrics отдает коллекторы другим компонентам сцены.
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// StartSession открывает новую сессию с обнуленным участием.
func (m *Monitor) StartSession(sceneID string, characters []domain.Character, theme string, settings SessionSettings) *Session {
	names := domain.CharacterNames(characters)
	participation := make(map[string]*ParticipationShare, len(names))
	for _, n := range names {
		participation[n] = &ParticipationShare{}
	}

	s := &Session{
		monitor:       m,
		id:            uuid.NewString(),
		sceneID:       sceneID,
		theme:         theme,
		characters:    names,
		settings:      settings,
		startedAt:     m.stamp(m.now()),
		decisions:     make([]DecisionRecord, 0),
		checkpoints:   make([]Checkpoint, 0),
		participation: participation,
		errors:        ErrorStats{ByKind: make(map[domain.ErrorKind]int)},
	}

	m.mu.Lock()
	m.active[s.id] = s
	m.mu.Unlock()

	m.logger.Info("Session started",
		zap.String("sessionID", s.id),
		zap.String("sceneID", sceneID),
		zap.String("theme", theme),
		zap.Strings("characters", names),
	)
	return s
}

// ActiveSessions возвращает текущую статистику всех незавершенных сессий.
func (m *Monitor) ActiveSessions() []SessionStatistics {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionStatistics, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Statistics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// History возвращает копию завершенных сессий, старые первыми.
func (m *Monitor) History() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneHistory(m.history)
}

// finish переносит итоги сессии в ограниченную историю.
func (m *Monitor) finish(s *Session, summary SessionSummary) {
	m.mu.Lock()
	delete(m.active, s.id)
	m.history = append(m.history, summary)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append([]SessionSummary(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	m.metrics.ObserveSession(summary.ParticipationVariance)
	m.logger.Info("Session ended",
		zap.String("sessionID", summary.SessionID),
		zap.Int("decisions", summary.TotalDecisions),
		zap.Float64("successRate", summary.PrimarySuccessRate),
		zap.Float64("avgLatencyMs", summary.AvgLatencyMs),
		zap.Bool("balanced", summary.Balanced),
	)
}

// GetInsights усредняет последние lastN сессий (окно из конфига при lastN <= 0).
// Возвращает nil, если истории нет.
func (m *Monitor) GetInsights(lastN int) *Insights {
	if lastN <= 0 {
		lastN = m.cfg.InsightsWindow
	}

	m.mu.RLock()
	recent := m.history[max(0, len(m.history)-lastN):]
	recent = cloneHistory(recent)
	m.mu.RUnlock()

	if len(recent) == 0 {
		return nil
	}

	var successSum, latencySum float64
	balanced := 0
	reasons := make(map[string]int)
	for _, s := range recent {
		successSum += s.PrimarySuccessRate
		latencySum += s.AvgLatencyMs
		if s.ParticipationVariance < m.cfg.VarianceThreshold {
			balanced++
		}
		for r, n := range s.ReasoningPatterns {
			reasons[r] += n
		}
	}

	n := float64(len(recent))
	in := &Insights{
		SessionsAnalyzed:         len(recent),
		AvgSuccessRate:           successSum / n,
		AvgLatencyMs:             latencySum / n,
		ParticipationConsistency: float64(balanced) / n,
		CommonReasoning:          topReasons(reasons, 5),
		Recommendations:          make([]Recommendation, 0),
	}

	if in.AvgSuccessRate < m.cfg.MinSuccessRate {
		in.Recommendations = append(in.Recommendations, Recommendation{
			Type:       "low_ai_success",
			Severity:   "high",
			Message:    "AI decision success rate is low. Consider adjusting prompt templates or model settings.",
			Suggestion: "Review the supervisor prompt template or lower the temperature",
		})
	}
	if in.AvgLatencyMs > float64(m.cfg.MaxLatency.Milliseconds()) {
		in.Recommendations = append(in.Recommendations, Recommendation{
			Type:       "slow_decisions",
			Severity:   "medium",
			Message:    "AI decisions are taking too long.",
			Suggestion: "Use a faster model, fewer max tokens, or a shorter decision timeout",
		})
	}
	unbalanced := len(recent) - balanced
	if float64(unbalanced) > m.cfg.UnbalancedShare*n {
		in.Recommendations = append(in.Recommendations, Recommendation{
			Type:       "unbalanced_participation",
			Severity:   "medium",
			Message:    "Character participation is frequently unbalanced.",
			Suggestion: "Use strict participation balance or the weighted-random strategy",
		})
	}
	return in
}

type exportEnvelope struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exportedAt"`
	Sessions   []SessionSummary `json:"sessions"`
}

// Export пишет историю в JSON.
func (m *Monitor) Export(w io.Writer) error {
	env := exportEnvelope{
		Version:    exportVersion,
		ExportedAt: m.stamp(m.now()),
		Sessions:   m.History(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode monitor history: %w", err)
	}
	return nil
}

// Import заменяет историю экспортированной, оставляя самые новые записи в пределах лимита.
func (m *Monitor) Import(r io.Reader) error {
	var env exportEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode monitor history: %w", domain.ErrConfiguration, err)
	}
	if env.Version != exportVersion {
		return fmt.Errorf("%w: unsupported export version %d", domain.ErrConfiguration, env.Version)
	}
	m.replace(env.Sessions)
	m.logger.Info("History imported", zap.Int("sessions", len(env.Sessions)))
	return nil
}

// Clear очищает историю завершенных сессий.
func (m *Monitor) Clear() {
	m.replace(nil)
}

func (m *Monitor) replace(sessions []SessionSummary) {
	sessions = sessions[max(0, len(sessions)-m.cfg.HistoryLimit):]
	m.mu.Lock()
	m.history = cloneHistory(sessions)
	m.mu.Unlock()
}

// LoadHistory восстанавливает историю из хранилища. При ошибке монитор остается
// с пустой историей, а ошибка возвращается для логирования.
func (m *Monitor) LoadHistory(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	history, err := m.store.LoadHistory(ctx)
	if err != nil {
		m.logger.Warn("Failed to load monitor history, starting empty", zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	m.replace(history)
	m.logger.Info("Monitor history loaded", zap.Int("sessions", len(history)))
	return nil
}

// Persist сохраняет текущую историю в хранилище.
func (m *Monitor) Persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveHistory(ctx, m.History()); err != nil {
		m.logger.Warn("Failed to persist monitor history", zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// stamp нормализует время, чтобы история после экспорта и импорта совпадала.
func (m *Monitor) stamp(t time.Time) time.Time {
	return t.UTC()
}

func topReasons(reasons map[string]int, limit int) []ReasoningCount {
	out := make([]ReasoningCount, 0, len(reasons))
	for r, n := range reasons {
		out = append(out, ReasoningCount{Reason: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneHistory(in []SessionSummary) []SessionSummary {
	if in == nil {
		return []SessionSummary{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return append([]SessionSummary{}, in...)
	}
	out := make([]SessionSummary, 0, len(in))
	if err := json.Unmarshal(data, &out); err != nil {
		return append([]SessionSummary{}, in...)
	}
	return out
}
