package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/upb/hitl-control-plane/config"
	"go.uber.org/zap"
)

// Dialect names the SQL driver a store talks to
type Dialect string

const (
	DialectSQLite   Dialect = config.DriverSQLite
	DialectPostgres Dialect = config.DriverPostgres
)

// Schema returns the DDL statements for a dialect. Every statement must be
// idempotent.
type Schema func(d Dialect) []string

// DB is a lazily opened, single-connection store handle. The connection is
// opened and the schema ensured on first use; a failed schema attempt is
// retried on the next call.
type DB struct {
	cfg     config.DatabaseConfig
	dialect Dialect
	schema  Schema
	logger  *zap.Logger

	mu    sync.Mutex
	conn  *sql.DB
	ready bool
}

// NewDB creates a store handle without touching the database
func NewDB(cfg config.DatabaseConfig, schema Schema, logger *zap.Logger) *DB {
	return &DB{
		cfg:     cfg,
		dialect: Dialect(cfg.Driver),
		schema:  schema,
		logger:  logger,
	}
}

// WrapDB adopts an already open connection and assumes its schema exists
func WrapDB(conn *sql.DB, dialect Dialect, logger *zap.Logger) *DB {
	return &DB{
		dialect: dialect,
		logger:  logger,
		conn:    conn,
		ready:   true,
	}
}

// Dialect returns the store's SQL dialect
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Conn returns the underlying connection, opening it and ensuring the schema
// on first use.
func (db *DB) Conn(ctx context.Context) (*sql.DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn == nil {
		conn, err := db.open(ctx)
		if err != nil {
			return nil, err
		}
		db.conn = conn
	}

	if !db.ready {
		if err := db.ensureSchema(ctx); err != nil {
			return nil, err
		}
		db.ready = true
	}

	return db.conn, nil
}

func (db *DB) open(ctx context.Context) (*sql.DB, error) {
	if db.dialect == DialectSQLite && !isMemoryPath(db.cfg.DSN) {
		if err := os.MkdirAll(filepath.Dir(db.cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open(string(db.dialect), db.cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer per store
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(db.cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if db.dialect == DialectSQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set journal mode: %w", err)
		}
	}

	db.logger.Info("database connection established",
		zap.String("connection", db.cfg.LogString()))

	return conn, nil
}

func (db *DB) ensureSchema(ctx context.Context) error {
	if db.schema == nil {
		return nil
	}
	for _, stmt := range db.schema(db.dialect) {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	db.logger.Debug("database schema ensured", zap.String("dialect", string(db.dialect)))
	return nil
}

// Close closes the connection if it was opened
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn == nil {
		return nil
	}
	db.logger.Info("closing database connection", zap.String("dialect", string(db.dialect)))
	err := db.conn.Close()
	db.conn = nil
	db.ready = false
	return err
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file:")
}

// dbTime normalises a timestamp to the precision both dialects store
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
