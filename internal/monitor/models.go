package monitor

import (
	"time"

	"improv-server/internal/domain"
)

// SessionSettings - конфигурация, с которой шла сессия.
type SessionSettings struct {
	Strategy        string `json:"strategy"`
	TargetLines     int    `json:"targetLines"`
	MaxLines        int    `json:"maxLines"`
	DurationMs      int64  `json:"durationMs"`
	PerformanceMode string `json:"performanceMode"`
}

// DecisionContext - часть контекста сцены, сохраняемая с каждым решением.
type DecisionContext struct {
	Energy     domain.Energy     `json:"energy"`
	Mood       domain.Mood       `json:"mood"`
	Location   string            `json:"location"`
	Phase      domain.ScenePhase `json:"phase"`
	TotalLines int               `json:"totalLines"`
}

// ParticipationShare - доля ходов одного персонажа.
type ParticipationShare struct {
	Turns      int `json:"turns"`
	Words      int `json:"words"`
	Percentage int `json:"percentage"`
}

// DecisionRecord - один записанный выбор. После записи не изменяется.
type DecisionRecord struct {
	Sequence      int                           `json:"sequence"`
	Speaker       string                        `json:"speaker"`
	Reason        string                        `json:"reason"`
	SceneNote     string                        `json:"sceneNote,omitempty"`
	Strategy      string                        `json:"strategy"`
	LatencyMs     float64                       `json:"latencyMs"`
	UsedPrimary   bool                          `json:"usedPrimary"`
	Error         *domain.ErrorDescriptor       `json:"error,omitempty"`
	Context       DecisionContext               `json:"context"`
	Participation map[string]ParticipationShare `json:"participation"`
	Timestamp     time.Time                     `json:"timestamp"`
}

// Checkpoint - легковесный срез состояния сцены.
type Checkpoint struct {
	Timestamp  time.Time           `json:"timestamp"`
	TotalLines int                 `json:"totalLines"`
	Phase      domain.ScenePhase   `json:"phase"`
	Energy     domain.Energy       `json:"energy"`
	Mood       domain.Mood         `json:"mood"`
	BeatCount  int                 `json:"beatCount"`
	Pacing     *domain.PacingIssue `json:"pacing,omitempty"`
}

// PhaseTransition - смена фазы между двумя срезами.
type PhaseTransition struct {
	From     domain.ScenePhase `json:"from"`
	To       domain.ScenePhase `json:"to"`
	At       time.Time         `json:"at"`
	OffsetMs int64             `json:"offsetMs"`
	Line     int               `json:"line"`
}

// ErrorStats агрегирует восстановленные сбои сессии.
type ErrorStats struct {
	Total  int                      `json:"total"`
	ByKind map[domain.ErrorKind]int `json:"byKind"`
	Last   *domain.ErrorDescriptor  `json:"last,omitempty"`
}

// SessionSummary - итоги одной завершенной сцены.
type SessionSummary struct {
	SessionID             string                        `json:"sessionId"`
	SceneID               string                        `json:"sceneId"`
	Theme                 string                        `json:"theme"`
	Characters            []string                      `json:"characters"`
	Settings              SessionSettings               `json:"settings"`
	StartedAt             time.Time                     `json:"startedAt"`
	EndedAt               time.Time                     `json:"endedAt"`
	DurationMs            int64                         `json:"durationMs"`
	TotalDecisions        int                           `json:"totalDecisions"`
	PrimaryDecisions      int                           `json:"primaryDecisions"`
	FallbackDecisions     int                           `json:"fallbackDecisions"`
	PrimarySuccessRate    float64                       `json:"primarySuccessRate"`
	FallbackRate          float64                       `json:"fallbackRate"`
	AvgLatencyMs          float64                       `json:"avgLatencyMs"`
	Participation         map[string]ParticipationShare `json:"participation"`
	ParticipationVariance float64                       `json:"participationVariance"`
	Balanced              bool                          `json:"balanced"`
	PhaseTransitions      []PhaseTransition             `json:"phaseTransitions"`
	ReasoningPatterns     map[string]int                `json:"reasoningPatterns"`
	TotalLines            int                           `json:"totalLines"`
	DramaticBeats         int                           `json:"dramaticBeats"`
	Errors                ErrorStats                    `json:"errors"`
	Decisions             []DecisionRecord              `json:"decisions"`
}

// SessionStatistics - текущее состояние незавершенной сессии.
type SessionStatistics struct {
	SessionID          string                        `json:"sessionId"`
	SceneID            string                        `json:"sceneId"`
	Theme              string                        `json:"theme"`
	StartedAt          time.Time                     `json:"startedAt"`
	TotalDecisions     int                           `json:"totalDecisions"`
	PrimarySuccessRate float64                       `json:"primarySuccessRate"`
	AvgLatencyMs       float64                       `json:"avgLatencyMs"`
	Participation      map[string]ParticipationShare `json:"participation"`
	Errors             ErrorStats                    `json:"errors"`
}

// Recommendation - подсказка по настройке, выведенная из последних сессий.
type Recommendation struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// ReasoningCount - одна запись гистограммы обоснований.
type ReasoningCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Insights - средние значения по сессиям и рекомендации.
type Insights struct {
	SessionsAnalyzed         int              `json:"sessionsAnalyzed"`
	AvgSuccessRate           float64          `json:"avgSuccessRate"`
	AvgLatencyMs             float64          `json:"avgLatencyMs"`
	ParticipationConsistency float64          `json:"participationConsistency"`
	CommonReasoning          []ReasoningCount `json:"commonReasoning"`
	Recommendations          []Recommendation `json:"recommendations"`
}
