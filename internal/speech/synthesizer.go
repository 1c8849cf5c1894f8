package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openaigo "github.com/sashabaranov/go-openai"
)

// ErrNoVoice возвращается, если у реплики нет голоса для синтеза.
var ErrNoVoice = errors.New("no voice configured")

// Synthesizer превращает текст в аудио.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	Format() string
}

// OpenAISynthesizer использует speech эндпоинт OpenAI.
type OpenAISynthesizer struct {
	client *openaigo.Client
	model  openaigo.SpeechModel
}

// NewOpenAISynthesizer использует model (tts-1, если пусто).
func NewOpenAISynthesizer(client *openaigo.Client, model string) *OpenAISynthesizer {
	m := openaigo.TTSModel1
	if model != "" {
		m = openaigo.SpeechModel(model)
	}
	return &OpenAISynthesizer{client: client, model: m}
}

func (s *OpenAISynthesizer) Format() string { return "mp3" }

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(voice) == "" {
		return nil, ErrNoVoice
	}
	resp, err := s.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openaigo.SpeechVoice(voice),
		ResponseFormat: openaigo.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("create speech: empty audio")
	}
	return audio, nil
}
