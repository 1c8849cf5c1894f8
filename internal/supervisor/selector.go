package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"improv-server/internal/domain"
)

const (
	DefaultDecisionTimeout = 8 * time.Second
	MaxDecisionTimeout     = 10 * time.Second
	DefaultRecentWindow    = 6

	reasonOnlySpeaker = "Only available speaker"
	reasonRoundRobin  = "Round-robin rotation"
	reasonWeighted    = "Weighted random selection (balancing participation)"
	reasonProvider    = "Supervisor decision"
)

// Config настраивает Selector.
type Config struct {
	Strategy        Strategy
	DecisionTimeout time.Duration
	RecentWindow    int
}

// Option настраивает Selector.
type Option func(*Selector)

// WithRand делает взвешенный выбор воспроизводимым.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithClock подменяет time.Now для меток времени ошибок.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// Selector выбирает следующего говорящего одной активной стратегией на сцену.
// Не безопасен для конкурентного использования; у каждой сцены свой Selector.
type Selector struct {
	strategy Strategy
	provider DecisionProvider
	timeout  time.Duration
	window   int
	rng      *rand.Rand
	now      func() time.Time
	logger   *zap.Logger
}

// NewSelector создает селектор. Некорректные настройки заменяются значениями по умолчанию и логируются.
func NewSelector(cfg Config, provider DecisionProvider, logger *zap.Logger, opts ...Option) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Selector{
		strategy: cfg.Strategy,
		provider: provider,
		timeout:  cfg.DecisionTimeout,
		window:   cfg.RecentWindow,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:      time.Now,
		logger:   logger.Named("SpeakerSelector"),
	}
	for _, opt := range opts {
		opt(s)
	}

	parsed, err := ParseStrategy(string(s.strategy))
	if err != nil {
		s.logger.Warn("Unknown strategy, using default", zap.String("strategy", string(cfg.Strategy)), zap.String("default", string(parsed)))
	}
	s.strategy = parsed
	if s.strategy == ContextDriven && provider == nil {
		s.logger.Warn("Context-driven strategy without decision provider, using weighted-random")
		s.strategy = WeightedRandom
	}
	if s.timeout <= 0 || s.timeout > MaxDecisionTimeout {
		s.timeout = DefaultDecisionTimeout
	}
	if s.window <= 0 {
		s.window = DefaultRecentWindow
	}
	return s
}

// Strategy возвращает активную стратегию после нормализации.
func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// Select выбирает следующего говорящего из roster. Ошибкой возвращается только проблема состава;
// сбои провайдера откатываются на взвешенный случайный выбор и записываются в решение.
func (s *Selector) Select(ctx context.Context, snap domain.SceneSnapshot, roster []domain.Character) (domain.SpeakerDecision, error) {
	start := time.Now()
	if len(roster) == 0 {
		return domain.SpeakerDecision{}, fmt.Errorf("%w: %w", domain.ErrInvalidSpeaker, domain.ErrEmptyRoster)
	}
	if len(snap.Stats) > 0 {
		for _, c := range roster {
			if _, ok := snap.Stats[c.Name]; !ok {
				return domain.SpeakerDecision{}, fmt.Errorf("%w: %q is not part of the scene", domain.ErrInvalidSpeaker, c.Name)
			}
		}
	}

	var decision domain.SpeakerDecision
	switch {
	case len(roster) == 1:
		decision = s.decided(roster[0], reasonOnlySpeaker, s.strategy)
	case s.strategy == RoundRobin:
		decision = s.roundRobin(snap, roster)
	case s.strategy == WeightedRandom:
		decision = s.weightedRandom(snap, roster)
	default:
		decision = s.contextDriven(ctx, snap, roster)
	}
	decision.Latency = time.Since(start)
	return decision, nil
}

func (s *Selector) decided(c domain.Character, reason string, strategy Strategy) domain.SpeakerDecision {
	return domain.SpeakerDecision{
		Speaker:     c,
		Reason:      reason,
		Strategy:    string(strategy),
		UsedPrimary: true,
	}
}

func (s *Selector) roundRobin(snap domain.SceneSnapshot, roster []domain.Character) domain.SpeakerDecision {
	last := -1
	for i, c := range roster {
		if c.Name == snap.LastSpeaker {
			last = i
			break
		}
	}
	return s.decided(roster[(last+1)%len(roster)], reasonRoundRobin, RoundRobin)
}

func (s *Selector) weightedRandom(snap domain.SceneSnapshot, roster []domain.Character) domain.SpeakerDecision {
	weights := make([]int, len(roster))
	total := 0
	for i, c := range roster {
		weights[i] = weight(snap.TurnCount(c.Name))
		total += weights[i]
	}

	draw := s.rng.Float64() * float64(total)
	cumulative := 0
	pick := roster[len(roster)-1]
	for i, c := range roster {
		cumulative += weights[i]
		if draw < float64(cumulative) {
			pick = c
			break
		}
	}
	return s.decided(pick, reasonWeighted, WeightedRandom)
}

type providerResult struct {
	decision ProviderDecision
	err      error
}

func (s *Selector) contextDriven(ctx context.Context, snap domain.SceneSnapshot, roster []domain.Character) domain.SpeakerDecision {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// буферизован: провайдер, игнорирующий ctx, сможет завершиться и выйти
	results := make(chan providerResult, 1)
	recent := snap.Recent(s.window)
	go func() {
		d, err := s.provider.Decide(callCtx, snap, roster, recent)
		results <- providerResult{decision: d, err: err}
	}()

	var res providerResult
	select {
	case res = <-results:
		if res.err == nil && callCtx.Err() != nil {
			res.err = callCtx.Err()
		}
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}

	if res.err != nil {
		kind := domain.ErrorKindProvider
		switch {
		case errors.Is(res.err, context.DeadlineExceeded):
			kind = domain.ErrorKindTimeout
		case errors.Is(res.err, ErrMalformedDecision):
			kind = domain.ErrorKindMalformed
		}
		return s.fallback(snap, roster, kind, res.err)
	}

	speaker, ok := domain.FindCharacter(roster, res.decision.SpeakerName)
	if !ok {
		return s.fallback(snap, roster, domain.ErrorKindInvalidSpeaker,
			fmt.Errorf("provider chose %q which is not in the roster", res.decision.SpeakerName))
	}

	reason := res.decision.Reason
	if reason == "" {
		reason = reasonProvider
	}
	d := s.decided(speaker, reason, ContextDriven)
	d.SceneNote = res.decision.SceneNote
	return d
}

func (s *Selector) fallback(snap domain.SceneSnapshot, roster []domain.Character, kind domain.ErrorKind, cause error) domain.SpeakerDecision {
	err := fmt.Errorf("%w: %w", domain.ErrDecisionProvider, cause)
	s.logger.Warn("Decision provider failed, falling back to weighted random",
		zap.String("sceneID", snap.SceneID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	d := s.weightedRandom(snap, roster)
	d.UsedPrimary = false
	d.Error = domain.NewErrorDescriptor(kind, err, s.now())
	return d
}
