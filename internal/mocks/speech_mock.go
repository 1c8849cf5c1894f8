package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"improv-server/internal/speech"
)

// Synthesizer - testify мок speech.Synthesizer.
type Synthesizer struct {
	mock.Mock
}

var _ speech.Synthesizer = (*Synthesizer)(nil)

func (m *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	args := m.Called(ctx, text, voice)
	audio, _ := args.Get(0).([]byte)
	return audio, args.Error(1)
}

func (m *Synthesizer) Format() string {
	return "mp3"
}

// Sink - testify мок speech.Sink.
type Sink struct {
	mock.Mock
}

var _ speech.Sink = (*Sink)(nil)

func (m *Sink) Play(ctx context.Context, clip speech.Clip) error {
	return m.Called(ctx, clip).Error(0)
}
