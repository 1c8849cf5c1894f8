package scene

import (
	"sort"
	"strings"
	"time"

	"improv-server/internal/analyzer"
	"improv-server/internal/domain"
)

// rederive пересчитывает контекст сцены, установленные элементы и эмоции
// по всей истории.
func (s *State) rederive() {
	perLine := make([]analyzer.Signals, len(s.history))
	texts := make([]string, len(s.history))
	for i, l := range s.history {
		perLine[i] = s.analyzer.Analyze(l.Text)
		texts[i] = l.Text
	}
	all := strings.Join(texts, " ")
	whole := s.analyzer.Analyze(all)

	s.context = domain.SceneContext{
		Energy:   s.energy(whole, perLine),
		Mood:     mood(whole.Sentiment),
		Location: s.defaultLocation(),
		Themes:   s.themes(perLine),
		Unusual:  s.unusual(perLine),
	}
	if whole.Location != "" {
		s.context.Location = whole.Location
	}

	s.established = s.established.Merge(domain.EstablishedElements{
		Location:      whole.Cues.Location,
		Conflict:      whole.Cues.Conflict,
		Relationships: whole.Cues.Relationship,
		Theme:         s.theme != "" && strings.Contains(strings.ToLower(all), strings.ToLower(s.theme)),
	})

	for _, c := range s.roster {
		s.stats[c.Name].EmotionalState = s.emotionOf(c.Name)
	}
}

func (s *State) energy(whole analyzer.Signals, perLine []analyzer.Signals) domain.Energy {
	switch {
	case whole.Cues.Exclamations >= 3:
		return domain.EnergyHigh
	case whole.Cues.Questions >= 2:
		return domain.EnergyQuestioning
	case len(perLine) < 3:
		return domain.EnergyBuilding
	case flat(perLine[len(perLine)-3:]):
		return domain.EnergyLow
	default:
		return domain.EnergyMedium
	}
}

// flat сообщает, пометил ли классификатор все реплики как Flat.
func flat(lines []analyzer.Signals) bool {
	for _, sig := range lines {
		if !sig.Cues.Flat {
			return false
		}
	}
	return true
}

func mood(sentiment domain.Sentiment) domain.Mood {
	switch sentiment {
	case domain.SentimentPositive:
		return domain.MoodPositive
	case domain.SentimentNegative:
		return domain.MoodTense
	default:
		return domain.MoodNeutral
	}
}

func (s *State) themes(perLine []analyzer.Signals) []string {
	seen := map[string]struct{}{s.theme: {}}
	extra := make([]string, 0)
	for _, sig := range perLine {
		for _, t := range sig.Topics {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				extra = append(extra, t)
			}
		}
	}
	sort.Strings(extra)
	return append([]string{s.theme}, extra...)
}

func (s *State) unusual(perLine []analyzer.Signals) *domain.UnusualElement {
	start := max(0, len(perLine)-unusualWindow)
	var best *domain.UnusualElement
	for i := start; i < len(perLine); i++ {
		score := perLine[i].Unusualness
		if score == 0 || (best != nil && score < best.Score) {
			continue
		}
		l := s.history[i]
		best = &domain.UnusualElement{Speaker: l.Speaker, Text: l.Text, Score: score, Sequence: l.Sequence}
	}
	return best
}

// emotionOf классифицирует две последние реплики персонажа.
func (s *State) emotionOf(name string) domain.EmotionalState {
	recent := make([]string, 0, 2)
	for i := len(s.history) - 1; i >= 0 && len(recent) < 2; i-- {
		if s.history[i].Speaker == name {
			recent = append(recent, s.history[i].Text)
		}
	}
	if len(recent) == 0 {
		return domain.EmotionNeutral
	}
	return s.analyzer.Analyze(strings.Join(recent, " ")).EmotionalState
}

// recordInteraction обновляет счетчик соседней пары говорящих в обе стороны.
func (s *State) recordInteraction(prev, cur domain.DialogueLine, at time.Time) {
	tone := toneOf(s.analyzer.Analyze(prev.Text + " " + cur.Text))
	for _, pair := range [][2]string{{prev.Speaker, cur.Speaker}, {cur.Speaker, prev.Speaker}} {
		st := s.stats[pair[0]]
		rel := st.Relationships[pair[1]]
		rel.Interactions++
		rel.Tone = tone
		rel.LastInteraction = at
		st.Relationships[pair[1]] = rel
	}
}

func toneOf(sig analyzer.Signals) domain.Tone {
	switch {
	case sig.Cues.Escalation || (sig.Cues.Exclamations > 0 && sig.Sentiment == domain.SentimentNegative):
		return domain.ToneNegative
	case sig.Sentiment == domain.SentimentPositive:
		return domain.TonePositive
	case sig.Cues.Comedy || sig.EmotionalState == domain.EmotionComedic:
		return domain.ToneComedic
	default:
		return domain.ToneNeutral
	}
}

// detectBeat добавляет не больше одного бита для новой реплики.
func (s *State) detectBeat(line domain.DialogueLine) {
	sig := s.analyzer.Analyze(line.Text)

	var beat domain.BeatType
	switch {
	case sig.Cues.Revelation:
		beat = domain.BeatRevelation
	case sig.Cues.Escalation:
		beat = domain.BeatConflict
	case sig.Cues.Comedy:
		beat = domain.BeatComedy
	default:
		return
	}
	s.beats = append(s.beats, domain.DramaticBeat{
		Type:      beat,
		Sequence:  line.Sequence,
		Speaker:   line.Speaker,
		Timestamp: line.Timestamp,
	})
}
