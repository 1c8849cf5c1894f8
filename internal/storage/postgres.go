package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"improv-server/pkg/database"
	"improv-server/pkg/migration"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

// PostgresStore хранит значения в таблице improv_kv.
type PostgresStore struct {
	db     *database.Database
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

type kvRow struct {
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OpenPostgres подключается, применяет встроенные миграции и возвращает хранилище.
func OpenPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("postgres storage requires DATABASE_URL")
	}
	db, err := database.New(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.MaxConns}, logger)
	if err != nil {
		return nil, err
	}
	if err := MigratePostgres(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db, logger), nil
}

// MigratePostgres применяет встроенную схему.
func MigratePostgres(ctx context.Context, db *database.Database) error {
	m := migration.NewMigrator(migration.Config{MigrationsFS: MigrationsFS, MigrationsPath: "migrations"}, db.Pool)
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("postgres storage migrations: %w", err)
	}
	return nil
}

func NewPostgresStore(db *database.Database, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger.Named("PostgresStore")}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row kvRow
	err := pgxscan.Get(ctx, s.db.Pool, &row, `SELECT key, value, updated_at FROM improv_kv WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(key)
		}
		s.logger.Error("Failed to read key", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("postgres get %q: %w", key, err)
	}
	return row.Value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO improv_kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := s.db.Pool.Exec(ctx, query, key, value); err != nil {
		s.logger.Error("Failed to write key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("postgres set %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.db.ExecuteInTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM improv_kv WHERE key = $1`, key); err != nil {
			return fmt.Errorf("postgres delete %q: %w", key, err)
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
