package supervisor

import (
	"context"
	"errors"

	"improv-server/internal/domain"
)

// ErrMalformedDecision оборачивают провайдеры, чей ответ не удалось разобрать.
var ErrMalformedDecision = errors.New("malformed decision")

// ProviderDecision - сырой ответ внешнего провайдера решений.
type ProviderDecision struct {
	SpeakerName string `json:"nextSpeaker"`
	Reason      string `json:"reason"`
	SceneNote   string `json:"sceneNote,omitempty"`
}

// DecisionProvider выбирает говорящего вне процесса (обычно через LLM).
// Реализации должны учитывать ctx; селектор в любом случае применяет свой таймаут.
type DecisionProvider interface {
	Decide(ctx context.Context, snapshot domain.SceneSnapshot, roster []domain.Character, recent []domain.DialogueLine) (ProviderDecision, error)
}
