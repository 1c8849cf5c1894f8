package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"improv-server/internal/domain"
)

// wordSet собирает регистронезависимую альтернативу с проверкой границ слов.
func wordSet(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

type topicPattern struct {
	name string
	re   *regexp.Regexp
}

var (
	positiveWords = wordSet("good", "great", "amazing", "wonderful", "fantastic", "love", "awesome", "brilliant", "perfect", "excellent")
	negativeWords = wordSet("bad", "terrible", "awful", "hate", "horrible", "wrong", "stupid", "annoying", "disappointing", "frustrating", "problem")

	topicPatterns = []topicPattern{
		{"work", wordSet("work", "job", "office", "business", "meeting", "project", "deadline", "boss", "colleague")},
		{"family", wordSet("family", "parent", "mother", "father", "sister", "brother", "child", "kids", "home")},
		{"food", wordSet("food", "eat", "restaurant", "cook", "recipe", "meal", "dinner", "lunch", "breakfast")},
		{"entertainment", wordSet("movie", "music", "book", "game", "show", "tv", "concert", "party", "fun")},
		{"travel", wordSet("travel", "trip", "vacation", "holiday", "flight", "hotel", "visit", "journey")},
		{"hobbies", wordSet("hobby", "sport", "exercise", "gym", "reading", "photography", "painting", "garden")},
		{"technology", wordSet("computer", "internet", "phone", "app", "software", "website", "digital", "tech")},
		{"weather", wordSet("weather", "rain", "sunny", "snow", "hot", "cold", "storm", "temperature")},
	}

	angryWords    = wordSet("angry", "mad", "frustrated", "annoyed")
	happyWords    = wordSet("happy", "great", "wonderful", "amazing")
	sadWords      = wordSet("sad", "terrible", "awful", "disappointed")
	comedicWords  = wordSet("funny", "hilarious", "joke", "laugh")
	placeWords    = wordSet("here", "this place", "factory", "store", "office", "home", "restaurant")
	locationCues  = wordSet("here", "this place", "at the", "in the", "factory", "store", "office", "restaurant")
	conflictCues  = wordSet("problem", "wrong", "disagree", "fight", "argue", "but", "however")
	bondCues      = wordSet("friend", "partner", "colleague", "together", "we", "us", "team")
	revelationCue = wordSet("wait", "actually", "realize")
	escalationCue = regexp.MustCompile(`(?i)\bno!|\b(?:wrong|stop)\b`)
	comedyCue     = wordSet("ridiculous", "silly", "funny")

	unusualIndicators = []*regexp.Regexp{
		wordSet("suddenly", "randomly", "inexplicably", "for no reason"),
		regexp.MustCompile(`(?i)\bbut i'm\b|\b(?:however|although|despite)\b|\beven though\b.*\bnot\b`),
		wordSet("obsessed", "terrified", "ecstatic", "furious"),
		regexp.MustCompile(`(?i)\bspeaking of\b|\bby the way\b`),
		regexp.MustCompile(`(?i)\bfloating\b|\bflying\b.*\bwithout\b|\bupside\b.*\bdown\b|\bbackwards\b`),
	}
	contrastWords  = wordSet("but", "however", "although")
	absoluteWords  = wordSet("never", "always", "completely", "totally", "absolutely")
	surpriseWords  = wordSet("suddenly", "randomly", "inexplicably")
	extremeEmotion = wordSet("love", "hate", "obsessed", "terrified", "ecstatic")
)

// KeywordAnalyzer классифицирует текст по фиксированным спискам слов.
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer возвращает классификатор по ключевым словам.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

var _ Analyzer = (*KeywordAnalyzer)(nil)

// Analyze реализует Analyzer.
func (KeywordAnalyzer) Analyze(text string) Signals {
	cues := Cues{
		Location:     locationCues.MatchString(text),
		Conflict:     conflictCues.MatchString(text),
		Relationship: bondCues.MatchString(text),
		Revelation:   revelationCue.MatchString(text),
		Escalation:   escalationCue.MatchString(text),
		Exclamations: strings.Count(text, "!"),
		Questions:    strings.Count(text, "?"),
	}
	cues.Comedy = cues.Exclamations > 0 && comedyCue.MatchString(text)

	return Signals{
		Sentiment:      sentiment(text),
		Topics:         topics(text),
		EmotionalState: emotion(text, cues),
		Unusualness:    unusualness(text),
		Cues:           cues,
		Location:       strings.ToLower(placeWords.FindString(text)),
	}
}

func sentiment(text string) domain.Sentiment {
	pos := len(positiveWords.FindAllStringIndex(text, -1))
	neg := len(negativeWords.FindAllStringIndex(text, -1))
	switch {
	case pos > neg:
		return domain.SentimentPositive
	case neg > pos:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

func topics(text string) []string {
	found := make([]string, 0, 2)
	for _, tp := range topicPatterns {
		if tp.re.MatchString(text) {
			found = append(found, tp.name)
		}
	}
	sort.Strings(found)
	return found
}

func emotion(text string, cues Cues) domain.EmotionalState {
	switch {
	case cues.Exclamations >= 2:
		return domain.EmotionExcited
	case cues.Questions >= 1:
		return domain.EmotionQuestioning
	case angryWords.MatchString(text):
		return domain.EmotionAngry
	case happyWords.MatchString(text):
		return domain.EmotionHappy
	case sadWords.MatchString(text):
		return domain.EmotionSad
	case comedicWords.MatchString(text):
		return domain.EmotionComedic
	default:
		return domain.EmotionNeutral
	}
}

// unusualness оценивает текст по шкале 0..100; текст без необычных маркеров получает 0.
func unusualness(text string) int {
	unusual := false
	for _, re := range unusualIndicators {
		if re.MatchString(text) {
			unusual = true
			break
		}
	}
	if !unusual {
		return 0
	}

	score := 0
	if len(text) > 100 {
		score += 10
	}
	if contrastWords.MatchString(text) {
		score += 20
	}
	if absoluteWords.MatchString(text) {
		score += 15
	}
	if surpriseWords.MatchString(text) {
		score += 25
	}
	if extremeEmotion.MatchString(text) {
		score += 15
	}
	return min(score, 100)
}
