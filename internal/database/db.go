package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	conn *sql.DB
}

// PoolConfig bounds the connection pool
type PoolConfig struct {
	MaxConns     int
	StaleTimeout time.Duration
}

// New opens a connection pool with default pool settings
func New(connStr string) (*DB, error) {
	return NewWithPool(connStr, PoolConfig{MaxConns: 20, StaleTimeout: 180 * time.Second})
}

// NewWithPool opens a connection pool and verifies connectivity
func NewWithPool(connStr string, pool PoolConfig) (*DB, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if pool.MaxConns > 0 {
		conn.SetMaxOpenConns(pool.MaxConns)
		conn.SetMaxIdleConns(pool.MaxConns / 2)
	}
	if pool.StaleTimeout > 0 {
		conn.SetConnMaxIdleTime(pool.StaleTimeout)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the connection pool
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks database connectivity
func (db *DB) Ping() error {
	return db.conn.Ping()
}
