package schema

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/database"
)

// VersionStore persists the schema version marker. SchemaVersion returns
// database.ErrNoSchemaVersion for an uninitialized store.
type VersionStore interface {
	SchemaVersion(ctx context.Context) (int, error)
	SetSchemaVersion(ctx context.Context, version int) error
}

// Migrator creates or upgrades schema objects
type Migrator interface {
	Create(ctx context.Context, version int) error
	Migrate(ctx context.Context, from, to int) error
}

// VersionError reports a stored schema newer than this binary understands
type VersionError struct {
	Stored   int
	Expected int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported schema version: %d (code requires: %d)", e.Stored, e.Expected)
}

// Guard brings the stored schema to the expected version or refuses to run
type Guard struct {
	store    VersionStore
	migrator Migrator
	expected int
	logger   *zap.SugaredLogger
}

// NewGuard creates a schema version guard
func NewGuard(store VersionStore, migrator Migrator, expected int, logger *zap.SugaredLogger) *Guard {
	return &Guard{
		store:    store,
		migrator: migrator,
		expected: expected,
		logger:   logger.With("component", "schema_guard"),
	}
}

// Expected returns the schema version this binary requires
func (g *Guard) Expected() int {
	return g.expected
}

// Verify checks the stored version and creates or migrates the schema.
// A stored version above the expected one returns *VersionError without
// touching the schema.
func (g *Guard) Verify(ctx context.Context) error {
	stored, err := g.store.SchemaVersion(ctx)
	if errors.Is(err, database.ErrNoSchemaVersion) {
		g.logger.Infow("No schema version recorded, creating schema", "version", g.expected)
		if err := g.migrator.Create(ctx, g.expected); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		if err := interrupted(ctx); err != nil {
			return err
		}
		if err := g.store.SetSchemaVersion(ctx, g.expected); err != nil {
			return err
		}
		g.logger.Info("Database schema created")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch {
	case stored == g.expected:
		g.logger.Debugw("Schema is up to date", "version", stored)
		return nil
	case stored > g.expected:
		return &VersionError{Stored: stored, Expected: g.expected}
	}

	g.logger.Infow("Migrating schema", "from", stored, "to", g.expected)
	if err := g.migrator.Migrate(ctx, stored, g.expected); err != nil {
		return fmt.Errorf("failed to migrate schema from %d to %d: %w", stored, g.expected, err)
	}
	if err := interrupted(ctx); err != nil {
		return err
	}
	if err := g.store.SetSchemaVersion(ctx, g.expected); err != nil {
		return err
	}
	g.logger.Info("Schema migration complete")
	return nil
}

// interrupted reports why ctx ended, so the version marker is never
// written once the caller has given up on the schema work
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("schema work interrupted: %w", context.Cause(ctx))
}
