package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/trogers1052/fund-quotes/internal/models"
)

// DefaultLockStaleness is how long a held lock may go without a refresh
// before another process may take it over.
const DefaultLockStaleness = 10 * time.Second

// ErrNoSchemaVersion is returned when db_config has no schema_version row
var ErrNoSchemaVersion = errors.New("schema version not recorded")

// EnsureConfigTable creates db_config if it does not exist. It lives outside
// the versioned migrations because the lock row must exist before they run.
func (db *DB) EnsureConfigTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS db_config (
			key      VARCHAR(64) PRIMARY KEY,
			val      VARCHAR(64),
			modified TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := db.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create db_config table: %w", err)
	}
	return nil
}

// GetConfigEntry retrieves a db_config row by key
func (db *DB) GetConfigEntry(ctx context.Context, key string) (*models.ConfigEntry, error) {
	query := `SELECT key, val, modified FROM db_config WHERE key = $1`

	var e models.ConfigEntry
	var val sql.NullString
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&e.Key, &val, &e.Modified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config entry %s: %w", key, err)
	}
	if val.Valid {
		e.Val = &val.String
	}
	return &e, nil
}

// SchemaVersion returns the recorded schema version, or ErrNoSchemaVersion
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	e, err := db.GetConfigEntry(ctx, models.ConfigKeySchemaVersion)
	if err != nil {
		return 0, err
	}
	if e == nil || e.Val == nil {
		return 0, ErrNoSchemaVersion
	}
	v, err := strconv.Atoi(*e.Val)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", *e.Val, err)
	}
	return v, nil
}

// SetSchemaVersion records the schema version
func (db *DB) SetSchemaVersion(ctx context.Context, version int) error {
	query := `
		INSERT INTO db_config (key, val, modified)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			val = EXCLUDED.val,
			modified = EXCLUDED.modified
	`
	if _, err := db.conn.ExecContext(ctx, query, models.ConfigKeySchemaVersion, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// SchemaLock is a cooperative lock over the db_config read_lock row. All
// operations are single conditional statements and never wait.
type SchemaLock struct {
	db        *DB
	logger    *zap.SugaredLogger
	staleness time.Duration
}

// NewSchemaLock creates a lock; staleness <= 0 means DefaultLockStaleness
func NewSchemaLock(db *DB, logger *zap.SugaredLogger, staleness time.Duration) *SchemaLock {
	if staleness <= 0 {
		staleness = DefaultLockStaleness
	}
	return &SchemaLock{
		db:        db,
		logger:    logger.With("component", "schema_lock"),
		staleness: staleness,
	}
}

// Staleness returns the takeover threshold
func (l *SchemaLock) Staleness() time.Duration {
	return l.staleness
}

// InitLock creates the read_lock row if it is missing
func (l *SchemaLock) InitLock(ctx context.Context) error {
	query := `
		INSERT INTO db_config (key, val, modified)
		VALUES ($1, NULL, now())
		ON CONFLICT (key) DO NOTHING
	`
	if _, err := l.db.conn.ExecContext(ctx, query, models.ConfigKeyReadLock); err != nil {
		return fmt.Errorf("failed to init lock: %w", err)
	}
	return nil
}

// TryLock claims the lock for token. A lock whose holder has not touched it
// for longer than the staleness threshold is taken over.
func (l *SchemaLock) TryLock(ctx context.Context, token string) (bool, error) {
	claimed, err := l.exec(ctx, `
		UPDATE db_config SET val = $2, modified = now()
		WHERE key = $1 AND val IS NULL
	`, models.ConfigKeyReadLock, token)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if claimed {
		return true, nil
	}

	l.logger.Debug("Failed to lock database")

	taken, err := l.exec(ctx, `
		UPDATE db_config SET val = $2, modified = now()
		WHERE key = $1 AND val IS NOT NULL
		  AND modified < now() - make_interval(secs => $3)
	`, models.ConfigKeyReadLock, token, l.staleness.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to take over lock: %w", err)
	}
	if taken {
		l.logger.Warnw("Database lock taken over from stale holder", "staleness", l.staleness)
	}
	return taken, nil
}

// Unlock releases the lock only when token holds it
func (l *SchemaLock) Unlock(ctx context.Context, token string) (bool, error) {
	released, err := l.exec(ctx, `
		UPDATE db_config SET val = NULL, modified = now()
		WHERE key = $1 AND val = $2
	`, models.ConfigKeyReadLock, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	if !released {
		l.logger.Debug("Failed to unlock database")
	}
	return released, nil
}

// Refresh bumps the lock timestamp while token holds it
func (l *SchemaLock) Refresh(ctx context.Context, token string) (bool, error) {
	held, err := l.exec(ctx, `
		UPDATE db_config SET modified = now()
		WHERE key = $1 AND val = $2
	`, models.ConfigKeyReadLock, token)
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %w", err)
	}
	return held, nil
}

func (l *SchemaLock) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := l.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// NewLockToken derives a per-process lock token from the hostname and the
// current time.
func NewLockToken(hostname string) string {
	seed := fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	h, _ := blake2b.New(10, nil)
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}
