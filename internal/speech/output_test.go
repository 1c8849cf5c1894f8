package speech_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/mocks"
	"improv-server/internal/speech"
)

type failureCounter struct{ n int }

func (f *failureCounter) IncSpeechFailure() { f.n++ }

func clipWith(pred func(speech.Clip) bool) interface{} {
	return mock.MatchedBy(pred)
}

func TestOutputSpeak(t *testing.T) {
	ctx := context.Background()
	u := speech.Utterance{SceneID: "s1", Speaker: "Alice", Text: "Hello there", VoiceID: "nova"}

	t.Run("synthesizes then caches", func(t *testing.T) {
		synth := &mocks.Synthesizer{}
		sink := &mocks.Sink{}
		synth.On("Synthesize", mock.Anything, "Hello there", "nova").Return([]byte("mp3"), nil).Once()
		sink.On("Play", mock.Anything, clipWith(func(c speech.Clip) bool {
			return !c.TextOnly && string(c.Audio) == "mp3" && c.Format == "mp3"
		})).Return(nil).Twice()

		out := speech.NewOutput(synth, sink, nil, time.Second, nil, zap.NewNop())
		require.NoError(t, out.Speak(ctx, u))

		out.Cache().Put("nova", "Hello there", []byte("mp3"))
		require.NoError(t, out.Speak(ctx, speech.Utterance{SceneID: "s1", Speaker: "Alice", Text: "HELLO THERE", VoiceID: "nova"}))

		synth.AssertExpectations(t)
		sink.AssertExpectations(t)
	})

	t.Run("synthesis failure falls back to text", func(t *testing.T) {
		synth := &mocks.Synthesizer{}
		sink := &mocks.Sink{}
		failures := &failureCounter{}
		synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("quota")).Once()
		sink.On("Play", mock.Anything, clipWith(func(c speech.Clip) bool { return c.TextOnly && c.Audio == nil })).Return(nil).Once()

		out := speech.NewOutput(synth, sink, nil, time.Second, failures, zap.NewNop())
		require.NoError(t, out.Speak(ctx, u))
		assert.Equal(t, 1, failures.n)
		sink.AssertExpectations(t)
	})

	t.Run("no voice is text only without counting a failure", func(t *testing.T) {
		synth := &mocks.Synthesizer{}
		sink := &mocks.Sink{}
		failures := &failureCounter{}
		sink.On("Play", mock.Anything, clipWith(func(c speech.Clip) bool { return c.TextOnly })).Return(nil).Once()

		out := speech.NewOutput(synth, sink, nil, time.Second, failures, zap.NewNop())
		require.NoError(t, out.Speak(ctx, speech.Utterance{SceneID: "s1", Speaker: "You", Text: "hi"}))
		assert.Zero(t, failures.n)
		synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("sink failure is returned", func(t *testing.T) {
		sink := &mocks.Sink{}
		sink.On("Play", mock.Anything, mock.Anything).Return(errors.New("closed")).Once()

		out := speech.NewOutput(nil, sink, nil, time.Second, nil, zap.NewNop())
		assert.Error(t, out.Speak(ctx, u))
	})
}

func TestOutputInterruptCancelsOverlappingSpeak(t *testing.T) {
	synth := &mocks.Synthesizer{}
	sink := &mocks.Sink{}
	startedA, releaseA := make(chan struct{}), make(chan struct{})
	startedB := make(chan struct{})
	errB := make(chan error, 1)

	synth.On("Synthesize", mock.Anything, "first", "nova").Run(func(args mock.Arguments) {
		close(startedA)
		<-releaseA
	}).Return([]byte("a"), nil).Once()
	synth.On("Synthesize", mock.Anything, "second", "nova").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		close(startedB)
		<-ctx.Done()
		errB <- ctx.Err()
	}).Return(nil, context.Canceled).Once()
	sink.On("Play", mock.Anything, mock.Anything).Return(nil)

	out := speech.NewOutput(synth, sink, nil, 5*time.Second, nil, zap.NewNop())
	ctx := context.Background()

	doneA := make(chan error, 1)
	go func() {
		doneA <- out.Speak(ctx, speech.Utterance{SceneID: "s1", Speaker: "Alice", Text: "first", VoiceID: "nova"})
	}()
	<-startedA

	doneB := make(chan error, 1)
	go func() {
		doneB <- out.Speak(ctx, speech.Utterance{SceneID: "s1", Speaker: "Bob", Text: "second", VoiceID: "nova"})
	}()
	<-startedB

	close(releaseA)
	require.NoError(t, <-doneA)

	out.Interrupt("s1")

	select {
	case err := <-errB:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("second utterance was not cancelled by Interrupt")
	}
	require.NoError(t, <-doneB)
	synth.AssertExpectations(t)
}

func TestOutputPregenerate(t *testing.T) {
	synth := &mocks.Synthesizer{}
	synth.On("Synthesize", mock.Anything, "Oh!", "nova").Return(nil, errors.New("flaky"))
	synth.On("Synthesize", mock.Anything, mock.Anything, "nova").Return([]byte("a"), nil)

	out := speech.NewOutput(synth, nil, speech.NewPhraseCache(100), time.Second, nil, zap.NewNop())
	chars := []domain.Character{
		{Name: "Alice", VoiceID: "nova", Catchphrases: []string{"Brilliant!"}},
		{Name: "You", Human: true, VoiceID: "nova"},
		{Name: "Mute"},
	}

	cached := out.Pregenerate(context.Background(), chars)
	assert.Equal(t, len(speech.CommonPhrases), cached)
	_, ok := out.Cache().Get("nova", "brilliant!")
	assert.True(t, ok)
	_, ok = out.Cache().Get("nova", "Oh!")
	assert.False(t, ok)
}

func TestPhraseCacheEvictsOldest(t *testing.T) {
	c := speech.NewPhraseCache(2)
	c.Put("v", "one", []byte("1"))
	c.Put("v", "two", []byte("2"))
	c.Put("v", "One", []byte("1b"))
	c.Put("v", "three", []byte("3"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("v", "one")
	assert.False(t, ok)
	audio, ok := c.Get("v", "three")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), audio)

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestEventBus(t *testing.T) {
	bus := speech.NewEventBus(zap.NewNop())

	var got []string
	unsub := bus.Subscribe(speech.EventFinalTranscript, func(e speech.Event) { got = append(got, "a:"+e.Text) })
	bus.Subscribe(speech.EventFinalTranscript, func(e speech.Event) { panic("boom") })
	bus.Subscribe(speech.EventFinalTranscript, func(e speech.Event) { got = append(got, "c:"+e.Text) })
	bus.Subscribe(speech.EventSpeechStart, func(e speech.Event) { got = append(got, "start") })

	bus.Publish(speech.Event{Kind: speech.EventFinalTranscript, Text: "hello"})
	assert.Equal(t, []string{"a:hello", "c:hello"}, got)

	unsub()
	unsub()
	got = nil
	bus.Publish(speech.Event{Kind: speech.EventFinalTranscript, Text: "again"})
	assert.Equal(t, []string{"c:again"}, got)

	assert.True(t, speech.ValidEventKind(speech.EventStatus))
	assert.False(t, speech.ValidEventKind("dance"))
}
