// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the binary as a single file.
// No separate database server to install, configure, or manage. It is the
// default backend for single-server deployments, and ":memory:" gives tests a
// fresh relational store per test.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code.
//
// SCHEMA:
// Three tables mirror the data model: accounts, posts, messages. posts.author_id,
// messages.sender_id and messages.receiver_id reference accounts(id). Uniqueness
// of names and emails is enforced by UNIQUE constraints, never by a
// check-then-insert in Go. Emails are unique on email_key, the case-folded
// form from model.EmailKey, since COLLATE NOCASE folds ASCII only.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
)

// DB wraps a sql.DB connection pool and provides repository methods.
// It implements repository.Repository (see account.go, post.go, message.go).
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/nearby.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (great for tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ONE CONNECTION:
	// SQLite allows a single writer at a time anyway, and every ":memory:"
	// connection would otherwise be its own empty database. Pinning the pool to
	// one connection also keeps the per-connection PRAGMAs below in effect.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite (for backwards compatibility).
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Backend names this implementation.
func (db *DB) Backend() string { return "sqlite" }

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to re-run. Columns added after the first
// release go through addColumnIfNotExists so existing files are upgraded in place.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL CHECK (kind IN ('person', 'business')),
			name              TEXT NOT NULL UNIQUE,
			email             TEXT NOT NULL,
			email_key         TEXT NOT NULL,
			password_hash     TEXT NOT NULL,
			latitude          REAL,
			longitude         REAL,
			bio               TEXT NOT NULL DEFAULT '',
			rating            REAL NOT NULL DEFAULT 2.5 CHECK (rating BETWEEN 0 AND 5),
			business_name     TEXT NOT NULL DEFAULT '',
			business_category TEXT NOT NULL DEFAULT '',
			created_at        DATETIME NOT NULL,
			CHECK ((latitude IS NULL) = (longitude IS NULL))
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_kind ON accounts(kind, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			id         TEXT PRIMARY KEY,
			author_id  TEXT NOT NULL REFERENCES accounts(id),
			content    TEXT NOT NULL CHECK (length(content) > 0),
			latitude   REAL,
			longitude  REAL,
			created_at DATETIME NOT NULL,
			CHECK ((latitude IS NULL) = (longitude IS NULL))
		);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating posts table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL REFERENCES accounts(id),
			receiver_id TEXT NOT NULL REFERENCES accounts(id),
			content     TEXT NOT NULL CHECK (length(content) > 0),
			created_at  DATETIME NOT NULL,
			CHECK (sender_id <> receiver_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	// Profile photos arrived after the first schema.
	if err := db.addColumnIfNotExists("accounts", "profile_photo",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding profile_photo to accounts: %w", err)
	}

	// Email uniqueness moved from COLLATE NOCASE, which only folds ASCII, to
	// a key computed by model.EmailKey.
	if err := db.addColumnIfNotExists("accounts", "email_key",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding email_key to accounts: %w", err)
	}
	if err := db.backfillEmailKeys(); err != nil {
		return err
	}
	if _, err := db.conn.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email_key ON accounts(email_key)`,
	); err != nil {
		return fmt.Errorf("creating email_key index: %w", err)
	}

	return nil
}

// backfillEmailKeys fills email_key for rows written before the column existed.
func (db *DB) backfillEmailKeys() error {
	rows, err := db.conn.Query(`SELECT id, email FROM accounts WHERE email_key = ''`)
	if err != nil {
		return fmt.Errorf("listing accounts without email_key: %w", err)
	}
	keys := map[string]string{}
	for rows.Next() {
		var id, email string
		if err := rows.Scan(&id, &email); err != nil {
			rows.Close()
			return fmt.Errorf("scanning account email: %w", err)
		}
		keys[id] = model.EmailKey(email)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing accounts without email_key: %w", err)
	}

	for id, key := range keys {
		if _, err := db.conn.Exec(`UPDATE accounts SET email_key = ? WHERE id = ?`, key, id); err != nil {
			return fmt.Errorf("backfilling email_key for %s: %w", id, err)
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so they can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// constraintKind inspects a driver error for a constraint violation and
// returns "unique", "foreign_key", "check" or "".
func constraintKind(err error) string {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return ""
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return "unique"
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return "foreign_key"
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return "check"
	}
	// Without extended result codes only the primary code is set.
	if sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE"):
			return "unique"
		case strings.Contains(msg, "FOREIGN KEY"):
			return "foreign_key"
		case strings.Contains(msg, "CHECK"):
			return "check"
		}
	}
	return ""
}

// wrap turns driver failures into repository errors. Lock contention and
// cancelled contexts are transient and surface as BackendUnavailable; anything
// else is a plain wrapped error.
func wrap(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.BackendUnavailable(op, err)
	}
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return apperror.BackendUnavailable(op, err)
		}
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
