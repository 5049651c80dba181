// Package store persists the gateway's state: apps, permissions, resources,
// pairing codes, connect requests, admins, settings, and the append-only
// request log. SQLite is the default backend; Postgres and MySQL are
// supported for multi-instance deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store manages the gateway's persistent state.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the default SQLite store under dataDir. Pass empty string
// for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "keywarden.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open("sqlite", dsn)
}

// Open connects to the given backend and runs migrations. Supported drivers:
// sqlite, pgx (Postgres), mysql.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// q rebinds positional placeholders for the active driver (? for
// SQLite/MySQL, $N for Postgres).
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// lastInsertID returns the driver's auto-increment echo, or zero when the
// driver does not report one (pgx). Rows read back through their natural
// keys, so the numeric ID is best-effort.
func lastInsertID(result sql.Result) int64 {
	id, err := result.LastInsertId()
	if err != nil {
		return 0
	}
	return id
}
