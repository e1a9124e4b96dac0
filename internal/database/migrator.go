package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// SchemaVersion is the schema version this build expects
const SchemaVersion = 2

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded migrations with golang-migrate
type Migrator struct {
	connStr string
	logger  *zap.SugaredLogger
}

// NewMigrator creates a migrator for the database at connStr
func NewMigrator(connStr string, logger *zap.SugaredLogger) *Migrator {
	return &Migrator{
		connStr: connStr,
		logger:  logger.With("component", "migrator"),
	}
}

// Create builds the schema from an empty database up to version
func (m *Migrator) Create(ctx context.Context, version int) error {
	m.logger.Infow("Creating database schema", "version", version)
	return m.run(ctx, func(mg *migrate.Migrate) error {
		return mg.Migrate(uint(version))
	})
}

// Migrate moves the schema from one version to another. The golang-migrate
// bookkeeping is first forced to from so it agrees with db_config.
func (m *Migrator) Migrate(ctx context.Context, from, to int) error {
	m.logger.Infow("Migrating database schema", "from", from, "to", to)
	return m.run(ctx, func(mg *migrate.Migrate) error {
		if err := mg.Force(from); err != nil {
			return fmt.Errorf("failed to force version %d: %w", from, err)
		}
		return mg.Migrate(uint(to))
	})
}

func (m *Migrator) run(ctx context.Context, fn func(*migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	mg, err := migrate.NewWithSourceInstance("iofs", src, m.connStr)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer mg.Close()
	mg.Log = &migrateLogger{logger: m.logger}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mg.GracefulStop <- true
		case <-done:
		}
	}()

	if err := fn(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migrateLogger adapts zap to migrate.Logger
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
