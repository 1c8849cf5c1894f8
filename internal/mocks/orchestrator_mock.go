package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"improv-server/internal/orchestrator"
	"improv-server/internal/speech"
)

// Generator - testify мок orchestrator.Generator.
type Generator struct {
	mock.Mock
}

var _ orchestrator.Generator = (*Generator)(nil)

func (m *Generator) Generate(ctx context.Context, req orchestrator.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// SpeechOutput - testify мок orchestrator.SpeechOutput с поддержкой barge-in.
type SpeechOutput struct {
	mock.Mock
}

var (
	_ orchestrator.SpeechOutput = (*SpeechOutput)(nil)
	_ orchestrator.Interrupter  = (*SpeechOutput)(nil)
)

func (m *SpeechOutput) Speak(ctx context.Context, u speech.Utterance) error {
	return m.Called(ctx, u).Error(0)
}

func (m *SpeechOutput) Interrupt(sceneID string) {
	m.Called(sceneID)
}
