package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/supervisor"
	"improv-server/pkg/ai"
)

// LLMDecisionProvider просит chat модель режиссировать сцену.
type LLMDecisionProvider struct {
	client      ai.Client
	settings    config.SupervisorSettings
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

var _ supervisor.DecisionProvider = (*LLMDecisionProvider)(nil)

func NewLLMDecisionProvider(client ai.Client, settings config.SupervisorSettings, dialogue config.DialogueSettings, logger *zap.Logger) *LLMDecisionProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMDecisionProvider{
		client:      client,
		settings:    settings,
		maxTokens:   dialogue.MaxTokens,
		temperature: dialogue.Temperature,
		logger:      logger.Named("DecisionProvider"),
	}
}

// Decide возвращает сырой выбор модели. Имя проверяет селектор.
func (p *LLMDecisionProvider) Decide(ctx context.Context, snap domain.SceneSnapshot, roster []domain.Character, recent []domain.DialogueLine) (supervisor.ProviderDecision, error) {
	system, user := p.BuildPrompts(snap, roster, recent)

	text, _, err := p.client.GenerateText(ctx, system, user, ai.GenerationParams{
		Temperature: ai.Float64(p.temperature),
		MaxTokens:   ai.Int(p.maxTokens),
	})
	if err != nil {
		return supervisor.ProviderDecision{}, err
	}

	decision, err := ParseDecision(text)
	if err != nil {
		p.logger.Warn("Unparseable supervisor answer", zap.String("sceneID", snap.SceneID), zap.String("answer", text), zap.Error(err))
		return supervisor.ProviderDecision{}, err
	}
	return decision, nil
}

// ParseDecision читает {nextSpeaker, reason, sceneNote}, допуская code fences и текст после JSON.
func ParseDecision(text string) (supervisor.ProviderDecision, error) {
	var d supervisor.ProviderDecision
	raw := ExtractJSON(text)
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return supervisor.ProviderDecision{}, fmt.Errorf("%w: %w", supervisor.ErrMalformedDecision, err)
	}
	d.SpeakerName = strings.TrimSpace(d.SpeakerName)
	if d.SpeakerName == "" {
		return supervisor.ProviderDecision{}, fmt.Errorf("%w: nextSpeaker is missing", supervisor.ErrMalformedDecision)
	}
	d.Reason = strings.TrimSpace(d.Reason)
	d.SceneNote = strings.TrimSpace(d.SceneNote)
	return d, nil
}

// BuildPrompts рендерит системный и пользовательский промты супервизора.
func (p *LLMDecisionProvider) BuildPrompts(snap domain.SceneSnapshot, roster []domain.Character, recent []domain.DialogueLine) (system, user string) {
	var details, stats []string
	for _, c := range roster {
		st := snap.Stats[c.Name]
		details = append(details, fmt.Sprintf("- %s: %s (Turns: %d)", c.Name, c.Personality, st.TurnCount))
		stats = append(stats, fmt.Sprintf("%s: %d turns, ~%d words", c.Name, st.TurnCount, st.WordCount))
	}

	dialogue := "No dialogue yet"
	if len(recent) > 0 {
		lines := make([]string, 0, len(recent))
		for _, l := range recent {
			lines = append(lines, fmt.Sprintf("%s: %q", l.Speaker, l.Text))
		}
		dialogue = strings.Join(lines, "\n")
	}

	location := snap.Context.Location
	if location == "" {
		location = "Unknown location"
	}

	user = RenderTemplate(p.settings.PromptTemplate, map[string]string{
		"characterCount":     strconv.Itoa(len(roster)),
		"audienceWord":       snap.Theme,
		"sceneLocation":      location,
		"sceneEnergy":        orDefault(string(snap.Context.Energy), "medium"),
		"sceneMood":          orDefault(string(snap.Context.Mood), "neutral"),
		"scenePhase":         snap.Phase.String(),
		"dialogueCount":      strconv.Itoa(snap.TotalLines),
		"characterDetails":   strings.Join(details, "\n"),
		"recentDialogue":     dialogue,
		"participationStats": strings.Join(stats, "\n"),
	})

	var extra []string
	if snap.Pacing != nil {
		extra = append(extra, fmt.Sprintf("Pacing issue: %s (suggestion: %s).", snap.Pacing.Type, snap.Pacing.Suggestion))
	}
	if under := filterRoster(snap.Underutilized, roster); len(under) > 0 {
		extra = append(extra, "Underused characters: "+strings.Join(under, ", ")+".")
	}
	if snap.LastSpeaker != "" && p.settings.MaxConsecutiveTurns <= 1 {
		extra = append(extra, fmt.Sprintf("%s just spoke and should not speak again now.", snap.LastSpeaker))
	}
	if len(extra) > 0 {
		user += "\n\nAdditional direction:\n" + strings.Join(extra, "\n")
	}

	system = RenderTemplate(config.DefaultSupervisorSystemPrompt, map[string]string{
		"personality":          p.settings.Personality,
		"pacingSpeed":          p.settings.PacingSpeed,
		"participationBalance": p.settings.ParticipationBalance,
	})
	return system, user
}

func filterRoster(names []string, roster []domain.Character) []string {
	var out []string
	for _, n := range names {
		if _, ok := domain.FindCharacter(roster, n); ok {
			out = append(out, n)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
