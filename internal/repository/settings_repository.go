package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"improv-server/internal/config"
	"improv-server/internal/domain"
	"improv-server/internal/storage"
)

type SettingsRepository struct {
	store  storage.Store
	logger *zap.Logger
}

func NewSettingsRepository(store storage.Store, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{store: store, logger: named(logger, "SettingsRepository")}
}

// Load возвращает сохраненные настройки поверх значений по умолчанию. Отсутствующие или поврежденные данные
// дают значения по умолчанию; поля вне диапазона исправляются и логируются.
func (r *SettingsRepository) Load(ctx context.Context, defaults config.Settings) config.Settings {
	s := defaults
	if err := loadJSON(ctx, r.store, SettingsKey, &s); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("Using default settings", zap.Error(err))
		}
		return defaults
	}
	for _, w := range s.Normalize() {
		r.logger.Warn("Stored setting corrected", zap.Error(w))
	}
	return s
}

func (r *SettingsRepository) Save(ctx context.Context, s config.Settings) error {
	return saveJSON(ctx, r.store, SettingsKey, s)
}
