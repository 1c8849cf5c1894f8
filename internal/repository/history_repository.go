package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"improv-server/internal/domain"
	"improv-server/internal/monitor"
	"improv-server/internal/storage"
)

// HistoryRepository хранит итоги завершенных сессий монитора.
type HistoryRepository struct {
	store  storage.Store
	logger *zap.Logger
}

var _ monitor.HistoryStore = (*HistoryRepository)(nil)

func NewHistoryRepository(store storage.Store, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{store: store, logger: named(logger, "HistoryRepository")}
}

// LoadHistory возвращает пустую историю для отсутствующих или поврежденных данных. Ошибками считаются только сбои хранилища.
func (r *HistoryRepository) LoadHistory(ctx context.Context) ([]monitor.SessionSummary, error) {
	var history []monitor.SessionSummary
	err := loadJSON(ctx, r.store, HistoryKey, &history)
	switch {
	case err == nil:
		return history, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, nil
	case errors.Is(err, errDegraded):
		r.logger.Warn("Discarding corrupt monitor history", zap.Error(err))
		return nil, nil
	default:
		return nil, err
	}
}

func (r *HistoryRepository) SaveHistory(ctx context.Context, history []monitor.SessionSummary) error {
	if history == nil {
		history = []monitor.SessionSummary{}
	}
	return saveJSON(ctx, r.store, HistoryKey, history)
}
