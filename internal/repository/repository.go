// Package repository хранит настройки, историю монитора и состав персонажей
// как JSON документы в storage.Store.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/storage"
)

// Ключи хранилища.
const (
	SettingsKey   = "improv-settings"
	HistoryKey    = "improv-monitor-history"
	CharactersKey = "improv-characters"
)

// errDegraded помечает значение, которое есть, но не декодируется.
var errDegraded = errors.New("stored value is corrupt")

// loadJSON декодирует key в dst. Возвращает domain.ErrNotFound для отсутствующего ключа,
// errDegraded для поврежденного значения и обернутую domain.ErrPersistence в остальных случаях.
func loadJSON(ctx context.Context, store storage.Store, key string, dst interface{}) error {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", errDegraded, key, err)
	}
	return nil
}

func saveJSON(ctx context.Context, store storage.Store, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrPersistence, key, err)
	}
	if err := store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: write %s: %w", domain.ErrPersistence, key, err)
	}
	return nil
}

func named(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named(name)
}
