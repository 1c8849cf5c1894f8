package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/monitor"
	"improv-server/internal/speech"
)

// Run ведет сцену, пока не выйдет время, не будет достигнут лимит реплик, не вызван Stop
// или не завершится ctx. Блокирует; запускайте в отдельной горутине.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.status != StatusIdle {
		st := o.status
		o.mu.Unlock()
		return Result{}, fmt.Errorf("%w: scene is %s", domain.ErrInvalidState, st)
	}
	o.status = StatusRunning
	o.deadline = time.Now().Add(o.cfg.Duration)
	o.mu.Unlock()

	timer := time.AfterFunc(o.cfg.Duration, func() { o.timeUp.Store(true) })
	defer timer.Stop()

	var session *monitor.Session
	if o.mon != nil {
		session = o.mon.StartSession(o.state.ID(), o.state.Roster(), o.state.Theme(), monitor.SessionSettings{
			Strategy:        string(o.selector.Strategy()),
			TargetLines:     o.state.TargetLines(),
			MaxLines:        o.cfg.MaxLines,
			DurationMs:      o.cfg.Duration.Milliseconds(),
			PerformanceMode: string(o.cfg.Mode),
		})
	}
	o.metrics.SceneStarted()
	defer o.metrics.SceneFinished()

	unsubscribe := o.subscribeVoice()
	defer unsubscribe()

	o.logger.Info("Scene started",
		zap.String("theme", o.state.Theme()),
		zap.Strings("characters", domain.CharacterNames(o.state.Roster())),
		zap.String("mode", string(o.cfg.Mode)),
		zap.Duration("duration", o.cfg.Duration),
		zap.Int("maxLines", o.cfg.MaxLines),
	)
	o.notifyState(StatusRunning, o.LatestSnapshot())

	status, reason := o.loop(ctx, session)

	o.speechWG.Wait()
	o.setStatus(status)

	res := Result{
		SceneID: o.state.ID(),
		Status:  status,
		Reason:  reason,
		Lines:   o.state.History(),
	}
	if session != nil {
		summary, err := session.End()
		if err != nil {
			o.logger.Warn("Failed to close monitor session", zap.Error(err))
		}
		res.Summary = summary
	}
	o.logger.Info("Scene finished", zap.String("status", string(status)), zap.String("reason", reason), zap.Int("lines", len(res.Lines)))
	return res, nil
}

func (o *Orchestrator) loop(ctx context.Context, session *monitor.Session) (Status, string) {
	for {
		if st, reason, done := o.checkEnd(ctx); done {
			return st, reason
		}

		if o.drainHuman(session) {
			continue
		}

		snap := o.state.Snapshot()
		decision, err := o.selector.Select(ctx, snap, o.roster)
		if err != nil {
			// состав проверяется в New; сюда попадаем только при ошибке программиста
			o.logger.Error("Speaker selection failed", zap.Error(err))
			return StatusEnded, "selection_error"
		}
		if o.stopped() {
			return StatusCancelled, ReasonStopped
		}
		if o.observer != nil {
			o.observer.SpeakerChosen(o.state.ID(), decision)
		}

		text, genErr := o.generate(ctx, decision, snap)
		if o.stopped() {
			o.logger.Debug("Discarding in-flight line after stop", zap.String("speaker", decision.Speaker.Name))
			return StatusCancelled, ReasonStopped
		}

		// контекст решения - сцена в момент выбора говорящего
		if session != nil {
			errDesc := decision.Error
			if errDesc == nil && genErr != nil {
				errDesc = domain.NewErrorDescriptor(domain.ErrorKindGeneration, genErr, time.Now())
			}
			if err := session.LogDecision(decision, snap, decision.Latency, decision.UsedPrimary, errDesc); err != nil {
				o.logger.Warn("Failed to log decision", zap.Error(err))
			}
		}

		line, err := o.state.CommitLine(decision.Speaker, text)
		if err != nil {
			o.logger.Error("Commit rejected", zap.String("speaker", decision.Speaker.Name), zap.Error(err))
			return StatusEnded, "commit_error"
		}
		o.afterCommit(session, line)

		o.speak(ctx, line, decision.Speaker)

		o.pause(ctx)
	}
}

// checkEnd проверяется в начале каждого хода.
func (o *Orchestrator) checkEnd(ctx context.Context) (Status, string, bool) {
	switch {
	case o.stopped():
		return StatusCancelled, ReasonStopped, true
	case ctx.Err() != nil:
		return StatusCancelled, ReasonStopped, true
	case o.timeUp.Load():
		return StatusEnded, ReasonTimeUp, true
	case o.state.TotalLines() >= o.cfg.MaxLines:
		return StatusEnded, ReasonLineLimit, true
	}
	return "", "", false
}

// drainHuman фиксирует реплики человека из очереди. Сообщает, было ли что-то зафиксировано.
func (o *Orchestrator) drainHuman(session *monitor.Session) bool {
	if o.cfg.Mode != ModeMixed {
		return false
	}
	committed := false
	for {
		if o.state.TotalLines() >= o.cfg.MaxLines {
			return committed
		}
		select {
		case text := <-o.human:
			performer := o.performer()
			line, err := o.state.CommitLine(performer, text)
			if err != nil {
				o.logger.Warn("Human line rejected", zap.Error(err))
				continue
			}
			o.afterCommit(session, line)
			committed = true
		default:
			return committed
		}
	}
}

func (o *Orchestrator) performer() domain.Character {
	for _, c := range o.state.Roster() {
		if c.Human {
			return c
		}
	}
	return domain.Character{}
}

// afterCommit публикует новый снимок и записывает срез.
func (o *Orchestrator) afterCommit(session *monitor.Session, line domain.DialogueLine) {
	snap := o.state.Snapshot()
	o.mu.Lock()
	o.latest = snap
	o.mu.Unlock()

	o.metrics.IncLinesCommitted()
	if session != nil {
		if err := session.LogSceneSnapshot(snap); err != nil {
			o.logger.Warn("Failed to log scene snapshot", zap.Error(err))
		}
	}
	if o.observer != nil {
		o.observer.LineCommitted(o.state.ID(), line, snap)
	}
	o.logger.Debug("Line committed", zap.Int("sequence", line.Sequence), zap.String("speaker", line.Speaker), zap.String("phase", snap.Phase.String()))
}

func (o *Orchestrator) generate(ctx context.Context, decision domain.SpeakerDecision, snap domain.SceneSnapshot) (string, error) {
	req := GenerationRequest{
		Speaker:  decision.Speaker,
		Others:   others(o.state.Roster(), decision.Speaker.Name),
		Theme:    o.state.Theme(),
		Snapshot: snap,
		Hints:    BuildHints(decision, snap),
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	results := make(chan result, 1)
	go func() {
		text, err := o.gen.Generate(genCtx, req)
		results <- result{text, err}
	}()

	var res result
	select {
	case res = <-results:
		if res.err == nil && genCtx.Err() != nil {
			res.err = genCtx.Err()
		}
	case <-genCtx.Done():
		res.err = genCtx.Err()
	}
	if res.err == nil && strings.TrimSpace(res.text) == "" {
		res.err = errors.New("empty line")
	}
	if res.err != nil {
		o.metrics.IncGenerationFallback()
		o.logger.Warn("Generation failed, using fallback line", zap.String("speaker", decision.Speaker.Name), zap.Error(res.err))
		return FallbackLine(decision.Speaker, o.state.Theme()), fmt.Errorf("%w: %w", domain.ErrGeneration, res.err)
	}
	return strings.TrimSpace(res.text), nil
}

// speak озвучивает реплику в фоне; ошибки только логируются.
func (o *Orchestrator) speak(ctx context.Context, line domain.DialogueLine, speaker domain.Character) {
	if o.speech == nil {
		return
	}
	u := speech.Utterance{SceneID: o.state.ID(), Speaker: line.Speaker, Text: line.Text, VoiceID: speaker.VoiceID}
	o.speechWG.Add(1)
	go func() {
		defer o.speechWG.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SpeechTimeout)
		defer cancel()
		if err := o.speech.Speak(sctx, u); err != nil {
			o.metrics.IncSpeechFailure()
			o.logger.Warn("Speech output failed", zap.String("speaker", u.Speaker), zap.Error(err))
		}
	}()
}

// pause ждет между репликами или до остановки.
func (o *Orchestrator) pause(ctx context.Context) {
	if o.cfg.Pause == 0 {
		return
	}
	t := time.NewTimer(o.cfg.Pause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-o.stopCh:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) subscribeVoice() func() {
	if o.voice == nil {
		return func() {}
	}
	var unsubs []func()
	if interrupter, ok := o.speech.(Interrupter); ok {
		unsubs = append(unsubs, o.voice.Subscribe(speech.EventSpeechStart, func(e speech.Event) {
			if o.forThisScene(e) {
				interrupter.Interrupt(o.state.ID())
			}
		}))
	}
	if o.cfg.Mode == ModeMixed {
		unsubs = append(unsubs, o.voice.Subscribe(speech.EventFinalTranscript, func(e speech.Event) {
			if !o.forThisScene(e) {
				return
			}
			if err := o.SubmitHumanLine(e.Text); err != nil {
				o.logger.Debug("Transcript dropped", zap.Error(err))
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (o *Orchestrator) forThisScene(e speech.Event) bool {
	return e.SceneID != "" && e.SceneID == o.state.ID()
}

// FallbackLine - детерминированная замена неудачной генерации.
func FallbackLine(speaker domain.Character, theme string) string {
	phrase := speaker.FirstCatchphrase()
	if phrase == "" {
		phrase = "Well"
	}
	return fmt.Sprintf("%s ...about %s!", phrase, theme)
}

func others(roster []domain.Character, name string) []domain.Character {
	out := make([]domain.Character, 0, len(roster))
	for _, c := range roster {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}
