package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (session_id, module, method) index on calls
const currentSchemaVersion = 1

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Store is the diagnostics log for bridge sessions.
// Uses SQLite with WAL mode so `tether trace` can read while a host writes.
type Store struct {
	db       *sql.DB
	readOnly bool
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	busyTimeout time.Duration
	readOnly    bool
	logger      *slog.Logger
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) { c.busyTimeout = d }
}

// WithReadOnly opens an existing log without creating or migrating it.
// Writes through a read-only store fail.
func WithReadOnly() Option {
	return func(c *openConfig) { c.readOnly = true }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// Open creates or opens the diagnostics log at path (":memory:" for an
// in-memory log). The schema is created and migrated unless the store is
// read-only; opening an existing log again is a no-op.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{busyTimeout: DefaultBusyTimeout, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	db, err := sql.Open("sqlite3", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps an in-memory log alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	var version int
	if cfg.readOnly {
		version, err = checkSchema(db)
	} else {
		version, err = applySchema(db)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	cfg.logger.Debug("diagnostics store opened",
		"path", path,
		"schema_version", version,
		"read_only", cfg.readOnly)
	return &Store{db: db, readOnly: cfg.readOnly}, nil
}

// dsn builds a go-sqlite3 URI. The driver applies the underscore
// parameters as pragmas on every new connection.
func dsn(path string, cfg openConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(cfg.busyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	if cfg.readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadOnly reports whether the store was opened WithReadOnly.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// applySchema creates missing tables and runs pending migrations,
// returning the resulting schema version.
func applySchema(db *sql.DB) (int, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return 0, fmt.Errorf("failed to apply schema: %w", err)
	}
	version, err := userVersion(db)
	if err != nil {
		return 0, err
	}
	if version > currentSchemaVersion {
		return 0, fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	for _, m := range migrations[version:] {
		if err := m(db); err != nil {
			return 0, err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return 0, fmt.Errorf("set user_version: %w", err)
	}
	return currentSchemaVersion, nil
}

// checkSchema accepts any log this version can read: the tables exist and
// the version is not from the future.
func checkSchema(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sessions', 'calls', 'transactions')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if n != 3 {
		return 0, fmt.Errorf("not a diagnostics log: missing tables")
	}
	version, err := userVersion(db)
	if err != nil {
		return 0, err
	}
	if version > currentSchemaVersion {
		return 0, fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return version, nil
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// migrations[i] upgrades a log from version i to i+1.
var migrations = []func(*sql.DB) error{
	migrateToV1,
}

// migrateToV1 adds the per-method call index for logs written before it
// was part of schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), `
		CREATE INDEX IF NOT EXISTS idx_calls_method
		ON calls(session_id, module, method)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
