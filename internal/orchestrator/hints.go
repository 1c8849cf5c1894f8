package orchestrator

import "improv-server/internal/domain"

// BuildHints превращает решение и снимок сцены в подсказки для генератора.
func BuildHints(decision domain.SpeakerDecision, snap domain.SceneSnapshot) Hints {
	h := Hints{
		Reason:     decision.Reason,
		SceneNote:  decision.SceneNote,
		Phase:      snap.Phase,
		Objectives: domain.PhaseObjectives(snap.Phase),
		Energy:     snap.Context.Energy,
		Mood:       snap.Context.Mood,
		Location:   snap.Context.Location,
	}
	if snap.Pacing != nil {
		p := *snap.Pacing
		h.Pacing = &p
	}
	// развиваем только то, что сказал другой персонаж
	if u := snap.Context.Unusual; u != nil && u.Speaker != decision.Speaker.Name {
		c := *u
		h.Unusual = &c
	}
	return h
}
