// Package speech озвучивает зафиксированные реплики и передает голосовые события клиентов.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"improv-server/internal/domain"
)

// CommonPhrases предгенерируются для каждого голоса при старте сцены.
var CommonPhrases = []string{
	"Yes, and...",
	"What?",
	"I see...",
	"Hold on...",
	"Wait, what?",
	"That's interesting...",
	"Let me think...",
	"Oh!",
	"Really?",
	"Hmm...",
}

// Utterance - одна реплика для озвучки.
type Utterance struct {
	SceneID string
	Speaker string
	Text    string
	VoiceID string
}

// Clip - то, что попадает в sink. Клипы TextOnly не содержат аудио и озвучиваются на клиенте.
type Clip struct {
	SceneID  string `json:"sceneId"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	VoiceID  string `json:"voiceId,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	Format   string `json:"format,omitempty"`
	TextOnly bool   `json:"textOnly"`
	Cached   bool   `json:"cached"`
}

// Sink доставляет клипы слушателям.
type Sink interface {
	Play(ctx context.Context, clip Clip) error
}

// Stopper реализуют sink'и, умеющие прервать воспроизведение.
type Stopper interface {
	StopPlayback(sceneID string)
}

// Metrics принимает сбои речи.
type Metrics interface {
	IncSpeechFailure()
}

// Output озвучивает реплики: кэш фраз, затем синтезатор, затем текстовый fallback.
type Output struct {
	synth   Synthesizer
	sink    Sink
	cache   *PhraseCache
	timeout time.Duration
	metrics Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]map[uint64]context.CancelFunc
}

// NewOutput создает Output. synth может быть nil, тогда все клипы только текстовые.
func NewOutput(synth Synthesizer, sink Sink, cache *PhraseCache, timeout time.Duration, metrics Metrics, logger *zap.Logger) *Output {
	if cache == nil {
		cache = NewPhraseCache(0)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Output{
		synth:    synth,
		sink:     sink,
		cache:    cache,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.Named("SpeechOutput"),
		inflight: make(map[string]map[uint64]context.CancelFunc),
	}
}

// Speak озвучивает u. Сбои синтеза деградируют до текстового клипа и учитываются здесь;
// ошибки sink возвращаются вызывающему.
func (o *Output) Speak(ctx context.Context, u Utterance) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	id := o.track(u.SceneID, cancel)
	defer o.untrack(u.SceneID, id)

	clip := Clip{SceneID: u.SceneID, Speaker: u.Speaker, Text: u.Text, VoiceID: u.VoiceID}
	if audio, ok := o.cache.Get(u.VoiceID, u.Text); ok {
		clip.Audio, clip.Cached = audio, true
		clip.Format = o.format()
	} else if audio, err := o.synthesize(ctx, u.Text, u.VoiceID); err == nil {
		clip.Audio = audio
		clip.Format = o.format()
	} else {
		if !errors.Is(err, ErrNoVoice) {
			o.failure()
			o.logger.Warn("Speech synthesis failed, falling back to text", zap.String("speaker", u.Speaker), zap.Error(err))
		}
		clip.TextOnly = true
	}

	if o.sink == nil {
		return nil
	}
	if err := o.sink.Play(ctx, clip); err != nil {
		return fmt.Errorf("play clip for %s: %w", u.Speaker, err)
	}
	return nil
}

// Interrupt отменяет все синтезы сцены в полете и останавливает воспроизведение (barge-in).
func (o *Output) Interrupt(sceneID string) {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.inflight[sceneID]))
	for _, cancel := range o.inflight[sceneID] {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	if st, ok := o.sink.(Stopper); ok {
		st.StopPlayback(sceneID)
	}
}

// Pregenerate кэширует общие фразы и коронные фразы персонажей.
// Сбои логируются и пропускаются. Возвращает число закэшированных фраз.
func (o *Output) Pregenerate(ctx context.Context, characters []domain.Character) int {
	if o.synth == nil {
		return 0
	}
	type job struct{ voice, text string }
	var jobs []job
	for _, c := range characters {
		if c.VoiceID == "" || c.Human {
			continue
		}
		for _, p := range append(append([]string{}, CommonPhrases...), c.Catchphrases...) {
			if _, ok := o.cache.Get(c.VoiceID, p); !ok {
				jobs = append(jobs, job{c.VoiceID, p})
			}
		}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		cached int
		sem    = make(chan struct{}, 4)
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			audio, err := o.synthesize(ctx, j.text, j.voice)
			if err != nil {
				o.logger.Debug("Failed to pre-generate phrase", zap.String("phrase", j.text), zap.Error(err))
				return
			}
			o.cache.Put(j.voice, j.text, audio)
			mu.Lock()
			cached++
			mu.Unlock()
		}(j)
	}
	wg.Wait()
	o.logger.Info("Phrases pre-generated", zap.Int("requested", len(jobs)), zap.Int("cached", cached))
	return cached
}

// Cache отдает кэш фраз.
func (o *Output) Cache() *PhraseCache { return o.cache }

func (o *Output) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if o.synth == nil || voice == "" {
		return nil, ErrNoVoice
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.synth.Synthesize(ctx, text, voice)
}

func (o *Output) format() string {
	if o.synth == nil {
		return ""
	}
	return o.synth.Format()
}

func (o *Output) failure() {
	if o.metrics != nil {
		o.metrics.IncSpeechFailure()
	}
}

func (o *Output) track(sceneID string, cancel context.CancelFunc) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	if o.inflight[sceneID] == nil {
		o.inflight[sceneID] = make(map[uint64]context.CancelFunc)
	}
	o.inflight[sceneID][o.seq] = cancel
	return o.seq
}

func (o *Output) untrack(sceneID string, id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight[sceneID], id)
	if len(o.inflight[sceneID]) == 0 {
		delete(o.inflight, sceneID)
	}
}
