package monitor

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"improv-server/internal/domain"
)

// Session записывает одну сцену. Создается через Monitor.StartSession.
type Session struct {
	monitor *Monitor

	mu            sync.Mutex
	id            string
	sceneID       string
	theme         string
	characters    []string
	settings      SessionSettings
	startedAt     time.Time
	decisions     []DecisionRecord
	checkpoints   []Checkpoint
	participation map[string]*ParticipationShare
	avgLatencyMs  float64
	primary       int
	errors        ErrorStats
	ended         bool
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

// LogDecision добавляет запись о решении и обновляет накопительные показатели.
func (s *Session) LogDecision(decision domain.SpeakerDecision, snap domain.SceneSnapshot, latency time.Duration, usedPrimary bool, errDesc *domain.ErrorDescriptor) error {
	now := s.monitor.stamp(s.monitor.now())

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return fmt.Errorf("log decision for session %s: %w", s.id, domain.ErrNoActiveSession)
	}

	s.updateParticipation(snap)

	n := float64(len(s.decisions) + 1)
	ms := float64(latency) / float64(time.Millisecond)
	s.avgLatencyMs += (ms - s.avgLatencyMs) / n
	if usedPrimary {
		s.primary++
	}
	if errDesc != nil {
		e := *errDesc
		e.Timestamp = e.Timestamp.UTC()
		s.errors.Total++
		s.errors.ByKind[e.Kind]++
		s.errors.Last = &e
		errDesc = &e
	}

	record := DecisionRecord{
		Sequence:    len(s.decisions) + 1,
		Speaker:     decision.Speaker.Name,
		Reason:      decision.Reason,
		SceneNote:   decision.SceneNote,
		Strategy:    decision.Strategy,
		LatencyMs:   ms,
		UsedPrimary: usedPrimary,
		Error:       errDesc,
		Context: DecisionContext{
			Energy:     snap.Context.Energy,
			Mood:       snap.Context.Mood,
			Location:   snap.Context.Location,
			Phase:      snap.Phase,
			TotalLines: snap.TotalLines,
		},
		Participation: s.participationCopy(),
		Timestamp:     now,
	}
	s.decisions = append(s.decisions, record)
	s.mu.Unlock()

	s.monitor.metrics.ObserveDecision(decision.Strategy, usedPrimary, latency)
	s.monitor.logger.Debug("Decision logged",
		zap.String("sessionID", s.id),
		zap.Int("sequence", record.Sequence),
		zap.String("speaker", record.Speaker),
		zap.Bool("usedPrimary", usedPrimary),
		zap.Float64("latencyMs", ms),
	)
	return nil
}

// LogSceneSnapshot добавляет легковесный срез и обновляет участие.
func (s *Session) LogSceneSnapshot(snap domain.SceneSnapshot) error {
	cp := Checkpoint{
		Timestamp:  s.monitor.stamp(s.monitor.now()),
		TotalLines: snap.TotalLines,
		Phase:      snap.Phase,
		Energy:     snap.Context.Energy,
		Mood:       snap.Context.Mood,
		BeatCount:  len(snap.Beats),
	}
	if snap.Pacing != nil {
		p := *snap.Pacing
		cp.Pacing = &p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("log snapshot for session %s: %w", s.id, domain.ErrNoActiveSession)
	}
	s.updateParticipation(snap)
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

// End считает итоги и переносит их в историю монитора.
// Повторный вызов возвращает ErrNoActiveSession.
func (s *Session) End() (SessionSummary, error) {
	endedAt := s.monitor.stamp(s.monitor.now())

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return SessionSummary{}, fmt.Errorf("end session %s: %w", s.id, domain.ErrNoActiveSession)
	}
	s.ended = true
	summary := s.summarize(endedAt)
	s.mu.Unlock()

	s.monitor.finish(s, summary)
	return summary, nil
}

// Statistics - текущее состояние сессии.
func (s *Session) Statistics() SessionStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatistics{
		SessionID:          s.id,
		SceneID:            s.sceneID,
		Theme:              s.theme,
		StartedAt:          s.startedAt,
		TotalDecisions:     len(s.decisions),
		PrimarySuccessRate: s.successRate(),
		AvgLatencyMs:       s.avgLatencyMs,
		Participation:      s.participationCopy(),
		Errors:             s.errorsCopy(),
	}
}

func (s *Session) updateParticipation(snap domain.SceneSnapshot) {
	total := 0
	for _, name := range s.characters {
		total += snap.TurnCount(name)
	}
	for _, name := range s.characters {
		share := s.participation[name]
		stat := snap.Stats[name]
		share.Turns = stat.TurnCount
		share.Words = stat.WordCount
		share.Percentage = 0
		if total > 0 {
			share.Percentage = int(math.Round(float64(stat.TurnCount) / float64(total) * 100))
		}
	}
}

func (s *Session) summarize(endedAt time.Time) SessionSummary {
	total := len(s.decisions)
	participation := s.participationCopy()
	variance := participationVariance(participation)

	reasons := make(map[string]int)
	for _, d := range s.decisions {
		r := strings.ToLower(strings.TrimSpace(d.Reason))
		if r == "" {
			continue
		}
		reasons[r]++
	}

	summary := SessionSummary{
		SessionID:             s.id,
		SceneID:               s.sceneID,
		Theme:                 s.theme,
		Characters:            append([]string{}, s.characters...),
		Settings:              s.settings,
		StartedAt:             s.startedAt,
		EndedAt:               endedAt,
		DurationMs:            endedAt.Sub(s.startedAt).Milliseconds(),
		TotalDecisions:        total,
		PrimaryDecisions:      s.primary,
		FallbackDecisions:     total - s.primary,
		PrimarySuccessRate:    s.successRate(),
		AvgLatencyMs:          s.avgLatencyMs,
		Participation:         participation,
		ParticipationVariance: variance,
		Balanced:              variance < s.monitor.cfg.VarianceThreshold,
		PhaseTransitions:      s.phaseTransitions(),
		ReasoningPatterns:     reasons,
		Errors:                s.errorsCopy(),
		Decisions:             append([]DecisionRecord{}, s.decisions...),
	}
	if total > 0 {
		summary.FallbackRate = float64(total-s.primary) / float64(total)
	}
	if n := len(s.checkpoints); n > 0 {
		last := s.checkpoints[n-1]
		summary.TotalLines = last.TotalLines
		summary.DramaticBeats = last.BeatCount
	}
	return summary
}

// successRate равен 1 для сессии без решений, чтобы пустые сцены не давали рекомендаций.
func (s *Session) successRate() float64 {
	if len(s.decisions) == 0 {
		return 1
	}
	return float64(s.primary) / float64(len(s.decisions))
}

func (s *Session) phaseTransitions() []PhaseTransition {
	out := make([]PhaseTransition, 0)
	for i := 1; i < len(s.checkpoints); i++ {
		prev, cur := s.checkpoints[i-1], s.checkpoints[i]
		if prev.Phase == cur.Phase {
			continue
		}
		out = append(out, PhaseTransition{
			From:     prev.Phase,
			To:       cur.Phase,
			At:       cur.Timestamp,
			OffsetMs: cur.Timestamp.Sub(s.startedAt).Milliseconds(),
			Line:     cur.TotalLines,
		})
	}
	return out
}

func (s *Session) participationCopy() map[string]ParticipationShare {
	out := make(map[string]ParticipationShare, len(s.participation))
	for name, share := range s.participation {
		out[name] = *share
	}
	return out
}

func (s *Session) errorsCopy() ErrorStats {
	out := ErrorStats{Total: s.errors.Total, ByKind: make(map[domain.ErrorKind]int, len(s.errors.ByKind))}
	for k, v := range s.errors.ByKind {
		out.ByKind[k] = v
	}
	if s.errors.Last != nil {
		last := *s.errors.Last
		out.Last = &last
	}
	return out
}

// participationVariance - дисперсия процентов по генеральной совокупности.
func participationVariance(p map[string]ParticipationShare) float64 {
	if len(p) == 0 {
		return 0
	}
	var sum float64
	for _, share := range p {
		sum += float64(share.Percentage)
	}
	mean := sum / float64(len(p))
	var sq float64
	for _, share := range p {
		d := float64(share.Percentage) - mean
		sq += d * d
	}
	return sq / float64(len(p))
}
