// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go driver, so the gateway builds without cgo.
// Every table is keyed by a natural id (subject id, build id, installation
// id), so writes are single-statement upserts and no transaction spans more
// than one statement.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// pragmas run on open, in order. WAL lets readers proceed during a write and
// busy_timeout makes concurrent writers wait instead of failing with SQLITE_BUSY.
var pragmas = []struct{ stmt, label string }{
	{"PRAGMA journal_mode=WAL", "setting WAL mode"},
	{"PRAGMA busy_timeout=5000", "setting busy timeout"},
	{"PRAGMA foreign_keys=ON", "enabling foreign keys"},
}

// New opens the database at dbPath ("data/gateway.db", or ":memory:" in
// tests) and brings the schema up to date.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" is a separate database, so the pool
	// must never hold more than one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn}
	if err := db.prepare(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) prepare() error {
	if err := db.conn.Ping(); err != nil {
		return fmt.Errorf("sqlite: pinging database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p.label, err)
		}
	}
	if err := db.migrate(); err != nil {
		return fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// schema is applied in order on every start. CREATE ... IF NOT EXISTS keeps
// it idempotent.
//
// upload_tokens lives in its own table rather than as a column on users so
// that replacing a profile record never clears the token, and issuing a token
// never clears the profile. token is UNIQUE so an upload credential resolves
// to exactly one subject.
var schema = []struct{ table, ddl string }{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			subject_id     TEXT PRIMARY KEY,
			provider_token TEXT NOT NULL DEFAULT '',
			provider_id    TEXT NOT NULL DEFAULT '',
			username       TEXT NOT NULL DEFAULT '',
			profile        TEXT NOT NULL DEFAULT 'null',
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`},
	{"upload_tokens", `
		CREATE TABLE IF NOT EXISTS upload_tokens (
			subject_id TEXT PRIMARY KEY,
			token      TEXT NOT NULL UNIQUE,
			issued_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`},
	{"builds", `
		CREATE TABLE IF NOT EXISTS builds (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`},
	{"builds", `CREATE INDEX IF NOT EXISTS idx_builds_owner_id ON builds(owner_id)`},
	{"installations", `
		CREATE TABLE IF NOT EXISTS installations (
			id           INTEGER PRIMARY KEY,
			subject_id   TEXT NOT NULL DEFAULT '',
			github_login TEXT NOT NULL DEFAULT '',
			setup_action TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`},
}

func (db *DB) migrate() error {
	for _, s := range schema {
		if _, err := db.conn.Exec(s.ddl); err != nil {
			return fmt.Errorf("creating %s: %w", s.table, err)
		}
	}
	return nil
}
