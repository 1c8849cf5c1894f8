package domain

import "time"

// Relationship - счетчик взаимодействий одного персонажа с другим.
type Relationship struct {
	Interactions    int       `json:"interactions"`
	Tone            Tone      `json:"tone"`
	LastInteraction time.Time `json:"lastInteraction"`
}

// CharacterStat - состояние участия персонажа, принадлежит сцене.
type CharacterStat struct {
	TurnCount      int                     `json:"turnCount"`
	WordCount      int                     `json:"wordCount"`
	LastSpoke      time.Time               `json:"lastSpoke"`
	EmotionalState EmotionalState          `json:"emotionalState"`
	Relationships  map[string]Relationship `json:"relationships"`
}

// NewCharacterStat возвращает обнуленную статистику с нейтральными отношениями к остальным.
func NewCharacterStat(others []string) CharacterStat {
	rel := make(map[string]Relationship, len(others))
	for _, name := range others {
		rel[name] = Relationship{Tone: ToneNeutral}
	}
	return CharacterStat{
		EmotionalState: EmotionNeutral,
		Relationships:  rel,
	}
}

// Clone возвращает глубокую копию.
func (s CharacterStat) Clone() CharacterStat {
	out := s
	out.Relationships = make(map[string]Relationship, len(s.Relationships))
	for k, v := range s.Relationships {
		out.Relationships[k] = v
	}
	return out
}
