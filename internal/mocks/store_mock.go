package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"improv-server/internal/storage"
)

// Store - testify мок storage.Store.
type Store struct {
	mock.Mock
}

var _ storage.Store = (*Store)(nil)

func (m *Store) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *Store) Set(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *Store) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *Store) Close() error {
	return m.Called().Error(0)
}
