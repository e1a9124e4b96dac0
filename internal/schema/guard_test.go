package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/database"
)

// MockVersionStore is a mock implementation of VersionStore
type MockVersionStore struct {
	mock.Mock
}

func (m *MockVersionStore) SchemaVersion(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockVersionStore) SetSchemaVersion(ctx context.Context, version int) error {
	return m.Called(ctx, version).Error(0)
}

// MockMigrator is a mock implementation of Migrator
type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Create(ctx context.Context, version int) error {
	return m.Called(ctx, version).Error(0)
}

func (m *MockMigrator) Migrate(ctx context.Context, from, to int) error {
	return m.Called(ctx, from, to).Error(0)
}

func TestGuardVerify(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	t.Run("current version needs nothing", func(t *testing.T) {
		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", ctx).Return(2, nil)

		require.NoError(t, NewGuard(store, migrator, 2, logger).Verify(ctx))
		store.AssertNotCalled(t, "SetSchemaVersion", mock.Anything, mock.Anything)
		migrator.AssertNotCalled(t, "Migrate", mock.Anything, mock.Anything, mock.Anything)
		migrator.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("older version is migrated and persisted", func(t *testing.T) {
		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", ctx).Return(1, nil)
		migrator.On("Migrate", ctx, 1, 2).Return(nil).Once()
		store.On("SetSchemaVersion", ctx, 2).Return(nil).Once()

		require.NoError(t, NewGuard(store, migrator, 2, logger).Verify(ctx))
		store.AssertExpectations(t)
		migrator.AssertExpectations(t)
	})

	t.Run("newer version aborts without mutation", func(t *testing.T) {
		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", ctx).Return(3, nil)

		err := NewGuard(store, migrator, 2, logger).Verify(ctx)

		var verr *VersionError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, 3, verr.Stored)
		assert.Equal(t, 2, verr.Expected)
		store.AssertNotCalled(t, "SetSchemaVersion", mock.Anything, mock.Anything)
		assert.Empty(t, migrator.Calls)
	})

	t.Run("missing version creates schema and seeds it", func(t *testing.T) {
		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", ctx).Return(0, database.ErrNoSchemaVersion)
		migrator.On("Create", ctx, 2).Return(nil).Once()
		store.On("SetSchemaVersion", ctx, 2).Return(nil).Once()

		require.NoError(t, NewGuard(store, migrator, 2, logger).Verify(ctx))
		migrator.AssertNotCalled(t, "Migrate", mock.Anything, mock.Anything, mock.Anything)
		store.AssertExpectations(t)
	})

	t.Run("failed migration leaves the version untouched", func(t *testing.T) {
		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", ctx).Return(1, nil)
		migrator.On("Migrate", ctx, 1, 2).Return(errors.New("syntax error"))

		err := NewGuard(store, migrator, 2, logger).Verify(ctx)
		require.Error(t, err)
		store.AssertNotCalled(t, "SetSchemaVersion", mock.Anything, mock.Anything)
	})

	t.Run("store read error is surfaced", func(t *testing.T) {
		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", ctx).Return(0, errors.New("connection refused"))

		err := NewGuard(store, migrator, 2, logger).Verify(ctx)
		require.Error(t, err)
		assert.Empty(t, migrator.Calls)
	})

	t.Run("canceled context skips the version write", func(t *testing.T) {
		cctx, cancel := context.WithCancelCause(ctx)
		cancel(ErrLockLost)

		store, migrator := new(MockVersionStore), new(MockMigrator)
		store.On("SchemaVersion", cctx).Return(1, nil)
		migrator.On("Migrate", cctx, 1, 2).Return(nil)

		err := NewGuard(store, migrator, 2, logger).Verify(cctx)
		assert.ErrorIs(t, err, ErrLockLost)
		store.AssertNotCalled(t, "SetSchemaVersion", mock.Anything, mock.Anything)
	})
}
