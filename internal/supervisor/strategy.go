// Package supervisor выбирает следующего говорящего в сцене.
package supervisor

import (
	"fmt"
	"strings"

	"improv-server/internal/domain"
)

// Strategy - имя стратегии выбора говорящего.
type Strategy string

const (
	RoundRobin     Strategy = "round-robin"
	WeightedRandom Strategy = "weighted-random"
	ContextDriven  Strategy = "context-driven"
)

// DefaultStrategy используется, если стратегия не задана или неизвестна.
const DefaultStrategy = ContextDriven

// ParseStrategy проверяет имя стратегии.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(name))); s {
	case RoundRobin, WeightedRandom, ContextDriven:
		return s, nil
	default:
		return DefaultStrategy, fmt.Errorf("%w: unknown turn-taking strategy %q", domain.ErrConfiguration, name)
	}
}

// weight дает персонажам с меньшим числом ходов больший шанс, но не меньше единицы.
func weight(turns int) int {
	return max(1, 5-turns)
}
