// Package storage предоставляет key/value хранилища для настроек, истории монитора и составов.
package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"improv-server/internal/domain"
)

// Store - минимальное хранилище блобов. Get возвращает domain.ErrNotFound для отсутствующих ключей.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Имена бэкендов.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config выбирает и настраивает бэкенд.
type Config struct {
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	DatabaseURL string
	MaxConns    int32

	SQLitePath string
}

// Open создает настроенный бэкенд. Удаленные бэкенды проверяются ping'ом перед возвратом.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory, "":
		logger.Info("Using in-memory store")
		return NewMemoryStore(), nil
	case BackendRedis:
		return OpenRedis(ctx, cfg, logger)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg, logger)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", domain.ErrConfiguration, cfg.Backend)
	}
}

// OpenOrMemory - это Open, который переходит на хранилище в памяти, если бэкенд
// не открылся. До перезапуска процесса данные не сохраняются.
func OpenOrMemory(ctx context.Context, cfg Config, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := Open(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Storage unavailable, falling back to in-memory store",
			zap.String("backend", cfg.Backend), zap.Error(err))
		return NewMemoryStore()
	}
	return store
}

func notFound(key string) error {
	return fmt.Errorf("%w: key %q", domain.ErrNotFound, key)
}
