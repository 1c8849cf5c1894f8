package domain

import "errors"

var (
	// ErrInvalidSpeaker возвращается, если персонажа нет в активном составе.
	ErrInvalidSpeaker = errors.New("invalid speaker")
	// ErrDecisionProvider помечает неудачное, просроченное или нераспознанное внешнее решение.
	ErrDecisionProvider = errors.New("decision provider failure")
	// ErrGeneration помечает неудачную генерацию контента.
	ErrGeneration = errors.New("generation failure")
	// ErrPersistence помечает неудачную загрузку или сохранение.
	ErrPersistence = errors.New("persistence failure")
	// ErrConfiguration помечает некорректную стратегию или значение настроек.
	ErrConfiguration = errors.New("configuration error")

	ErrNotFound        = errors.New("not found")
	ErrSceneNotFound   = errors.New("scene not found")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrNoActiveSession = errors.New("no active session")
	ErrEmptyRoster     = errors.New("empty roster")
)
