// Package scene хранит авторитетную модель одной идущей сцены.
//
// State принадлежит одной горутине (циклу ходов). Остальные читатели получают
// независимые копии через Snapshot.
package scene

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"improv-server/internal/analyzer"
	"improv-server/internal/domain"
)

const (
	DefaultTargetLines      = 12
	DefaultUnderutilization = 0.7
	DefaultOverutilization  = 1.3

	sameSpeakerWindow   = 3
	lowEnergyAfterLines = 4
	conflictDeadline    = 0.7
	unusualWindow       = 5
)

// Option настраивает State.
type Option func(*State)

// WithTargetLines задает ожидаемую длину сцены для фаз и темпа.
func WithTargetLines(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.targetLines = n
		}
	}
}

// WithUtilizationRatios переопределяет пороги недо- и переучастия.
func WithUtilizationRatios(under, over float64) Option {
	return func(s *State) {
		if under > 0 {
			s.underRatio = under
		}
		if over > 0 {
			s.overRatio = over
		}
	}
}

// WithAnalyzer подменяет классификатор текста.
func WithAnalyzer(a analyzer.Analyzer) Option {
	return func(s *State) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithClock подменяет time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSceneID задает идентификатор сцены вместо сгенерированного.
func WithSceneID(id string) Option {
	return func(s *State) {
		if id != "" {
			s.id = id
		}
	}
}

// State - изменяемая модель сцены.
type State struct {
	id          string
	theme       string
	roster      []domain.Character
	index       map[string]int
	analyzer    analyzer.Analyzer
	now         func() time.Time
	targetLines int
	underRatio  float64
	overRatio   float64

	history     []domain.DialogueLine
	stats       map[string]*domain.CharacterStat
	context     domain.SceneContext
	established domain.EstablishedElements
	beats       []domain.DramaticBeat
}

// New создает сцену для состава и слова-темы.
func New(characters []domain.Character, theme string, opts ...Option) (*State, error) {
	if len(characters) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, domain.ErrEmptyRoster)
	}

	s := &State{
		id:          uuid.NewString(),
		theme:       strings.TrimSpace(theme),
		roster:      append([]domain.Character(nil), characters...),
		index:       make(map[string]int, len(characters)),
		analyzer:    analyzer.NewKeywordAnalyzer(),
		now:         time.Now,
		targetLines: DefaultTargetLines,
		underRatio:  DefaultUnderutilization,
		overRatio:   DefaultOverutilization,
	}
	for i, c := range characters {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: character at position %d has no name", domain.ErrConfiguration, i)
		}
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate character %q", domain.ErrConfiguration, c.Name)
		}
		s.index[c.Name] = i
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Reset()
	return s, nil
}

// Reset сбрасывает историю и статистику, сохраняя состав и тему.
func (s *State) Reset() {
	s.history = nil
	s.beats = nil
	s.established = domain.EstablishedElements{}
	s.stats = make(map[string]*domain.CharacterStat, len(s.roster))
	names := domain.CharacterNames(s.roster)
	for _, c := range s.roster {
		others := make([]string, 0, len(names)-1)
		for _, n := range names {
			if n != c.Name {
				others = append(others, n)
			}
		}
		st := domain.NewCharacterStat(others)
		s.stats[c.Name] = &st
	}
	s.context = domain.SceneContext{
		Energy:   domain.EnergyBuilding,
		Mood:     domain.MoodNeutral,
		Location: s.defaultLocation(),
		Themes:   []string{s.theme},
	}
}

// CommitLine добавляет реплику speaker и пересчитывает модель сцены.
func (s *State) CommitLine(speaker domain.Character, text string) (domain.DialogueLine, error) {
	if _, ok := s.index[speaker.Name]; !ok {
		return domain.DialogueLine{}, fmt.Errorf("%w: %q is not in the roster", domain.ErrInvalidSpeaker, speaker.Name)
	}

	now := s.now()
	var prev *domain.DialogueLine
	if l := s.lastLine(); l != nil {
		p := *l
		prev = &p
	}
	line := domain.DialogueLine{
		Sequence:  len(s.history) + 1,
		Speaker:   speaker.Name,
		Text:      text,
		WordCount: domain.CountWords(text),
		Timestamp: now,
	}
	s.history = append(s.history, line)

	st := s.stats[speaker.Name]
	st.TurnCount++
	st.WordCount += line.WordCount
	st.LastSpoke = now

	if prev != nil && prev.Speaker != line.Speaker {
		s.recordInteraction(*prev, line, now)
	}

	s.rederive()
	s.detectBeat(line)
	return line, nil
}

// Phase выводится из числа зафиксированных реплик.
func (s *State) Phase() domain.ScenePhase {
	return domain.PhaseFor(len(s.history), s.targetLines)
}

// GetUnderutilizedCharacters возвращает персонажей ниже порога недоучастия от среднего числа ходов.
func (s *State) GetUnderutilizedCharacters() []domain.Character {
	avg := s.averageTurns()
	out := make([]domain.Character, 0, len(s.roster))
	for _, c := range s.roster {
		if float64(s.stats[c.Name].TurnCount) < avg*s.underRatio {
			out = append(out, c)
		}
	}
	return out
}

// GetOverutilizedCharacters возвращает персонажей выше порога переучастия от среднего числа ходов.
func (s *State) GetOverutilizedCharacters() []domain.Character {
	avg := s.averageTurns()
	out := make([]domain.Character, 0, len(s.roster))
	for _, c := range s.roster {
		if float64(s.stats[c.Name].TurnCount) > avg*s.overRatio {
			out = append(out, c)
		}
	}
	return out
}

// SuggestedNextSpeakers предпочитает недоучаствующих AI персонажей, иначе всех, кроме последнего говорящего.
func (s *State) SuggestedNextSpeakers() []domain.Character {
	out := make([]domain.Character, 0, len(s.roster))
	for _, c := range s.GetUnderutilizedCharacters() {
		if !c.Human {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	last := s.LastSpeaker()
	for _, c := range s.roster {
		if !c.Human && c.Name != last {
			out = append(out, c)
		}
	}
	return out
}

// NeedsPacingChange сообщает не больше одной проблемы, проверяя их по приоритету.
func (s *State) NeedsPacingChange() *domain.PacingIssue {
	if n := len(s.history); n >= sameSpeakerWindow {
		tail := s.history[n-sameSpeakerWindow:]
		same := true
		for _, l := range tail[1:] {
			if l.Speaker != tail[0].Speaker {
				same = false
				break
			}
		}
		if same {
			return &domain.PacingIssue{Type: domain.PacingSameSpeaker, Suggestion: "switch_speaker"}
		}
	}

	if s.context.Energy == domain.EnergyLow && len(s.history) > lowEnergyAfterLines {
		return &domain.PacingIssue{Type: domain.PacingLowEnergy, Suggestion: "inject_energy"}
	}

	if float64(len(s.history)) > conflictDeadline*float64(s.targetLines) && !s.established.Conflict {
		return &domain.PacingIssue{Type: domain.PacingNeedsConflict, Suggestion: "create_tension"}
	}
	return nil
}

// Snapshot возвращает независимую глубокую копию модели сцены.
func (s *State) Snapshot() domain.SceneSnapshot {
	stats := make(map[string]domain.CharacterStat, len(s.stats))
	for name, st := range s.stats {
		stats[name] = st.Clone()
	}

	roster := make([]domain.Character, len(s.roster))
	for i, c := range s.roster {
		c.Catchphrases = append([]string(nil), c.Catchphrases...)
		roster[i] = c
	}

	return domain.SceneSnapshot{
		SceneID:       s.id,
		Theme:         s.theme,
		Roster:        roster,
		History:       s.History(),
		TotalLines:    len(s.history),
		TargetLines:   s.targetLines,
		LastSpeaker:   s.LastSpeaker(),
		Stats:         stats,
		Context:       copyContext(s.context),
		Phase:         s.Phase(),
		Established:   s.established,
		Beats:         append([]domain.DramaticBeat{}, s.beats...),
		Pacing:        s.NeedsPacingChange(),
		Underutilized: domain.CharacterNames(s.GetUnderutilizedCharacters()),
		TakenAt:       s.now(),
	}
}

// ID идентифицирует сцену.
func (s *State) ID() string { return s.id }

func (s *State) Theme() string { return s.theme }

func (s *State) TargetLines() int { return s.targetLines }

// TotalLines всегда равен длине истории.
func (s *State) TotalLines() int { return len(s.history) }

func (s *State) Established() domain.EstablishedElements { return s.established }

func (s *State) Context() domain.SceneContext { return copyContext(s.context) }

func (s *State) Beats() []domain.DramaticBeat {
	return append([]domain.DramaticBeat{}, s.beats...)
}

func (s *State) History() []domain.DialogueLine {
	return append([]domain.DialogueLine{}, s.history...)
}

func (s *State) Roster() []domain.Character {
	return append([]domain.Character{}, s.roster...)
}

func (s *State) HasCharacter(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Stat возвращает копию статистики name.
func (s *State) Stat(name string) (domain.CharacterStat, bool) {
	st, ok := s.stats[name]
	if !ok {
		return domain.CharacterStat{}, false
	}
	return st.Clone(), true
}

// LastSpeaker - говорящий последней реплики, "" до первой реплики.
func (s *State) LastSpeaker() string {
	if l := s.lastLine(); l != nil {
		return l.Speaker
	}
	return ""
}

func (s *State) lastLine() *domain.DialogueLine {
	if len(s.history) == 0 {
		return nil
	}
	return &s.history[len(s.history)-1]
}

func (s *State) averageTurns() float64 {
	return float64(len(s.history)) / float64(len(s.roster))
}

func (s *State) defaultLocation() string {
	return "somewhere related to " + s.theme
}

func copyContext(c domain.SceneContext) domain.SceneContext {
	out := c
	out.Themes = append([]string(nil), c.Themes...)
	if c.Unusual != nil {
		u := *c.Unusual
		out.Unusual = &u
	}
	return out
}
