package domain

// Sentiment - тональность фрагмента текста.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// EmotionalState - эмоция персонажа.
type EmotionalState string

const (
	EmotionNeutral     EmotionalState = "neutral"
	EmotionExcited     EmotionalState = "excited"
	EmotionQuestioning EmotionalState = "questioning"
	EmotionAngry       EmotionalState = "angry"
	EmotionHappy       EmotionalState = "happy"
	EmotionSad         EmotionalState = "sad"
	EmotionComedic     EmotionalState = "comedic"
)

// Tone - характер отношений двух персонажей.
type Tone string

const (
	ToneNeutral  Tone = "neutral"
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
	ToneComedic  Tone = "comedic"
)

// Energy - энергия сцены в целом.
type Energy string

const (
	EnergyBuilding    Energy = "building"
	EnergyMedium      Energy = "medium"
	EnergyHigh        Energy = "high"
	EnergyQuestioning Energy = "questioning"
	EnergyLow         Energy = "low"
)

// Mood - настроение сцены в целом.
type Mood string

const (
	MoodPositive Mood = "positive"
	MoodTense    Mood = "tense"
	MoodNeutral  Mood = "neutral"
)
