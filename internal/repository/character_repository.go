package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/storage"
)

// CharacterRepository хранит доступный состав, при отсутствии используется встроенный каталог.
type CharacterRepository struct {
	store  storage.Store
	logger *zap.Logger
}

func NewCharacterRepository(store storage.Store, logger *zap.Logger) *CharacterRepository {
	return &CharacterRepository{store: store, logger: named(logger, "CharacterRepository")}
}

func (r *CharacterRepository) List(ctx context.Context) []domain.Character {
	var chars []domain.Character
	if err := loadJSON(ctx, r.store, CharactersKey, &chars); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("Using built-in characters", zap.Error(err))
		}
		return domain.DefaultCharacters()
	}
	if len(chars) == 0 {
		return domain.DefaultCharacters()
	}
	return chars
}

// Resolve ищет персонажей по ID или имени без учета регистра, сохраняя порядок запроса.
func (r *CharacterRepository) Resolve(ctx context.Context, refs []string) ([]domain.Character, error) {
	all := r.List(ctx)
	out := make([]domain.Character, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		c, ok := findByID(all, ref)
		if !ok {
			c, ok = domain.FindCharacter(all, ref)
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown character %q", domain.ErrConfiguration, ref)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *CharacterRepository) Save(ctx context.Context, chars []domain.Character) error {
	for i, c := range chars {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: character at position %d has no name", domain.ErrConfiguration, i)
		}
	}
	return saveJSON(ctx, r.store, CharactersKey, chars)
}

func findByID(chars []domain.Character, id string) (domain.Character, bool) {
	if id == "" {
		return domain.Character{}, false
	}
	for _, c := range chars {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Character{}, false
}
