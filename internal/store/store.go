// Package store owns the single embedded SQLite database backing the
// thread registry and budget ledger (SPEC_FULL.md [LEDGER]/[REGISTRY]),
// grounded on the pack's modernc.org/sqlite dependency (a pure-Go driver,
// avoiding cgo in the host binary).
package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/ryehost/rye/internal/hosterr"
)

// DB wraps a *sql.DB opened against the host's embedded database file.
type DB struct {
	*sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id              TEXT PRIMARY KEY,
	parent_id       TEXT,
	status          TEXT NOT NULL,
	capabilities    TEXT NOT NULL,
	max_spend       INTEGER NOT NULL,
	reserved_spend  INTEGER NOT NULL DEFAULT 0,
	actual_spend    INTEGER NOT NULL DEFAULT 0,
	continuation_of TEXT,
	result          TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_parent ON threads(parent_id);

CREATE TABLE IF NOT EXISTS trust_pins (
	registry_host TEXT PRIMARY KEY,
	fingerprint   TEXT NOT NULL
);
`

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. An empty path opens a private in-memory database, useful for
// tests and single-process ephemeral runs.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, hosterr.Wrap(hosterr.ValidationError, err, "opening store at %s", path)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer, serialize via Go side

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		sqlDB.Close()
		return nil, hosterr.Wrap(hosterr.ValidationError, err, "applying schema to %s", path)
	}
	return &DB{DB: sqlDB}, nil
}

// WithImmediateTx runs fn inside a BEGIN IMMEDIATE transaction, committing
// on success and rolling back on error or panic (spec SPEC_FULL.md
// [LEDGER]: every budget mutation is transactional). database/sql's Tx
// always issues a deferred BEGIN, so the immediate write-lock is acquired
// by hand over a single *sql.Conn instead.
func (db *DB) WithImmediateTx(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "acquiring connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "acquiring immediate lock")
	}

	defer func() {
		if p := recover(); p != nil {
			conn.ExecContext(ctx, "ROLLBACK")
			panic(p)
		}
	}()

	if err := fn(conn); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "committing transaction")
	}
	return nil
}
