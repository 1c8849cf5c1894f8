// Package analyzer извлекает простые сигналы из реплики диалога.
package analyzer

import "improv-server/internal/domain"

// Cues - совпадения по ключевым словам, которые сцена использует помимо основных сигналов.
type Cues struct {
	Location     bool `json:"location"`
	Conflict     bool `json:"conflict"`
	Relationship bool `json:"relationship"`
	Revelation   bool `json:"revelation"`
	Escalation   bool `json:"escalation"`
	Comedy       bool `json:"comedy"`
	Exclamations int  `json:"exclamations"`
	Questions    int  `json:"questions"`
	// Flat помечает реплику без драматической энергии. Keyword-анализатор его не выставляет,
	// флаг приходит от подключаемых классификаторов.
	Flat bool `json:"flat"`
}

// Signals - результат классификации фрагмента текста.
type Signals struct {
	Sentiment      domain.Sentiment      `json:"sentiment"`
	Topics         []string              `json:"topics"`
	EmotionalState domain.EmotionalState `json:"emotionalState"`
	Unusualness    int                   `json:"unusualness"`
	Cues           Cues                  `json:"cues"`
	// Location - первое найденное слово-место, пусто если не найдено.
	Location string `json:"location,omitempty"`
}

// Analyzer классифицирует текст. Реализации должны быть чистыми и не возвращать ошибок:
// неизвестный ввод дает нейтральные сигналы.
type Analyzer interface {
	Analyze(text string) Signals
}
