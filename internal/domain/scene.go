package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScenePhase - крупная стадия повествования. Значения упорядочены.
type ScenePhase int

const (
	PhaseSetup ScenePhase = iota
	PhaseDevelopment
	PhaseClimax
	PhaseResolution
)

var phaseNames = [...]string{"setup", "development", "climax", "resolution"}

func (p ScenePhase) String() string {
	if p < PhaseSetup || p > PhaseResolution {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalJSON кодирует фазу по имени.
func (p ScenePhase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON декодирует имя фазы.
func (p *ScenePhase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range phaseNames {
		if n == name {
			*p = ScenePhase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scene phase %q", name)
}

// PhaseFor определяет фазу по числу зафиксированных реплик и целевой длине.
// С ростом lines фаза не уменьшается.
func PhaseFor(lines, target int) ScenePhase {
	switch {
	case lines <= 2:
		return PhaseSetup
	case lines <= target*7/10:
		return PhaseDevelopment
	case lines <= target*9/10:
		return PhaseClimax
	default:
		return PhaseResolution
	}
}

// PhaseObjectives - цели для каждой фазы, передаются генератору как подсказки.
func PhaseObjectives(p ScenePhase) []string {
	switch p {
	case PhaseSetup:
		return []string{"set the scene", "introduce characters", "establish tone"}
	case PhaseDevelopment:
		return []string{"build conflict", "deepen character dynamics", "add complexity"}
	case PhaseClimax:
		return []string{"maximum tension", "decisive moment", "character revelation"}
	default:
		return []string{"wrap up conflicts", "character growth", "satisfying ending"}
	}
}

// EstablishedElements: флаги в пределах сцены меняются только с false на true.
type EstablishedElements struct {
	Location      bool `json:"location"`
	Conflict      bool `json:"conflict"`
	Relationships bool `json:"relationships"`
	Theme         bool `json:"theme"`
}

// Merge объединяет other с e через OR.
func (e EstablishedElements) Merge(other EstablishedElements) EstablishedElements {
	return EstablishedElements{
		Location:      e.Location || other.Location,
		Conflict:      e.Conflict || other.Conflict,
		Relationships: e.Relationships || other.Relationships,
		Theme:         e.Theme || other.Theme,
	}
}

// BeatType - тип драматического бита.
type BeatType string

const (
	BeatRevelation BeatType = "revelation"
	BeatConflict   BeatType = "conflict"
	BeatComedy     BeatType = "comedy"
)

// DramaticBeat - заметный момент, найденный в зафиксированной реплике.
type DramaticBeat struct {
	Type      BeatType  `json:"type"`
	Sequence  int       `json:"sequence"`
	Speaker   string    `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

// UnusualElement - самая необычная из последних реплик, кандидат на развитие.
type UnusualElement struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	Score    int    `json:"score"`
	Sequence int    `json:"sequence"`
}

// SceneContext пересчитывается по всей истории при каждой фиксации.
type SceneContext struct {
	Energy   Energy          `json:"energy"`
	Mood     Mood            `json:"mood"`
	Location string          `json:"location"`
	Themes   []string        `json:"themes"`
	Unusual  *UnusualElement `json:"unusual,omitempty"`
}

// PacingType - тип проблемы темпа.
type PacingType string

const (
	PacingSameSpeaker   PacingType = "too_much_same_speaker"
	PacingLowEnergy     PacingType = "low_energy"
	PacingNeedsConflict PacingType = "needs_conflict"
)

// PacingIssue сообщается сценой, когда ходу сцены нужен толчок.
type PacingIssue struct {
	Type       PacingType `json:"type"`
	Suggestion string     `json:"suggestion"`
}

// SceneSnapshot - независимая глубокая копия модели сцены.
type SceneSnapshot struct {
	SceneID       string                   `json:"sceneId"`
	Theme         string                   `json:"theme"`
	Roster        []Character              `json:"roster"`
	History       []DialogueLine           `json:"history"`
	TotalLines    int                      `json:"totalLines"`
	TargetLines   int                      `json:"targetLines"`
	LastSpeaker   string                   `json:"lastSpeaker"`
	Stats         map[string]CharacterStat `json:"stats"`
	Context       SceneContext             `json:"context"`
	Phase         ScenePhase               `json:"phase"`
	Established   EstablishedElements      `json:"established"`
	Beats         []DramaticBeat           `json:"beats"`
	Pacing        *PacingIssue             `json:"pacing,omitempty"`
	Underutilized []string                 `json:"underutilized"`
	TakenAt       time.Time                `json:"takenAt"`
}

// Recent возвращает не больше n последних реплик.
func (s SceneSnapshot) Recent(n int) []DialogueLine {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	return s.History[len(s.History)-n:]
}

// TurnCount возвращает число ходов name, ноль для неизвестных имен.
func (s SceneSnapshot) TurnCount(name string) int {
	return s.Stats[name].TurnCount
}
