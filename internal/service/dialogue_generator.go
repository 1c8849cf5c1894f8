package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/orchestrator"
	"improv-server/pkg/ai"
)

// DialogueGenerator пишет следующую реплику с помощью chat-completion модели.
type DialogueGenerator struct {
	client   ai.Client
	prompts  config.PromptTemplates
	dialogue config.DialogueSettings
	logger   *zap.Logger
}

var _ orchestrator.Generator = (*DialogueGenerator)(nil)

func NewDialogueGenerator(client ai.Client, prompts config.PromptTemplates, dialogue config.DialogueSettings, logger *zap.Logger) *DialogueGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DialogueGenerator{
		client:   client,
		prompts:  prompts,
		dialogue: dialogue,
		logger:   logger.Named("DialogueGenerator"),
	}
}

// Generate возвращает одну очищенную реплику для req.Speaker. Ошибки обрабатывает fallback вызывающего.
func (g *DialogueGenerator) Generate(ctx context.Context, req orchestrator.GenerationRequest) (string, error) {
	system, user := g.BuildPrompts(req)

	text, usage, err := g.client.GenerateText(ctx, system, user, ai.GenerationParams{
		Temperature: ai.Float64(g.dialogue.Temperature),
		MaxTokens:   ai.Int(g.dialogue.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}

	line := CleanLine(text, req.Speaker.Name)
	if line == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrGeneration, errors.New("model returned an empty line"))
	}
	g.logger.Debug("Line generated",
		zap.String("sceneID", req.Snapshot.SceneID),
		zap.String("speaker", req.Speaker.Name),
		zap.Int("totalTokens", usage.TotalTokens),
	)
	return line, nil
}

// BuildPrompts рендерит системный и пользовательский промты для req.
func (g *DialogueGenerator) BuildPrompts(req orchestrator.GenerationRequest) (system, user string) {
	history := req.Snapshot.History
	otherNames := strings.Join(domain.CharacterNames(req.Others), ", ")
	characterCount := strconv.Itoa(len(req.Others) + 1)

	var instructions string
	switch len(history) {
	case 0:
		instructions = RenderTemplate(g.prompts.FirstLine, map[string]string{"audienceWord": req.Theme})
	case 1:
		last := history[0]
		instructions = RenderTemplate(g.prompts.SecondLine, map[string]string{"lastSpeaker": last.Speaker, "lastLine": last.Text})
	default:
		last := history[len(history)-1]
		instructions = RenderTemplate(g.prompts.Continuation, map[string]string{"lastSpeaker": last.Speaker, "lastLine": last.Text})
	}

	sceneInstructions := g.prompts.SceneBuildText
	if len(history) == 0 {
		sceneInstructions = g.prompts.SceneEstablishText
	}

	user = RenderTemplate(g.prompts.Main, map[string]string{
		"speakerName":         req.Speaker.Name,
		"otherCharacterNames": otherNames,
		"audienceWord":        req.Theme,
		"personality":         req.Speaker.Personality,
		"catchphrases":        strings.Join(req.Speaker.Catchphrases, ", "),
		"promptInstructions":  instructions,
		"sceneDirection":      sceneDirection(req.Hints),
		"maxWords":            strconv.Itoa(g.prompts.MaxWords),
		"sceneInstructions":   sceneInstructions,
		"characterCount":      characterCount,
	})
	system = RenderTemplate(g.prompts.System, map[string]string{
		"speakerName":         req.Speaker.Name,
		"otherCharacterNames": otherNames,
		"characterCount":      characterCount,
	})
	return system, user
}

func sceneDirection(h orchestrator.Hints) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene phase: %s (%s).", h.Phase, strings.Join(h.Objectives, ", "))
	if h.Location != "" {
		fmt.Fprintf(&b, "\nLocation: %s.", h.Location)
	}
	if h.Energy != "" || h.Mood != "" {
		fmt.Fprintf(&b, "\nEnergy: %s, mood: %s.", h.Energy, h.Mood)
	}
	if h.SceneNote != "" {
		fmt.Fprintf(&b, "\nDirector's note: %s", h.SceneNote)
	}
	if h.Pacing != nil {
		fmt.Fprintf(&b, "\nPacing: %s, try to %s.", strings.ReplaceAll(string(h.Pacing.Type), "_", " "), strings.ReplaceAll(h.Pacing.Suggestion, "_", " "))
	}
	if h.Unusual != nil {
		fmt.Fprintf(&b, "\nHeighten what %s just introduced: %q", h.Unusual.Speaker, h.Unusual.Text)
	}
	return b.String()
}
