// Package postgres implements repository.Repository on PostgreSQL via pgx.
//
// It is chosen when DATABASE_URL is set and is meant for deployments that run
// more than one server process against the same data. The schema mirrors the
// sqlite backend; email uniqueness is case-insensitive through a unique index
// on email_key, computed in Go by model.EmailKey so the folding does not
// depend on the database collation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// compile-time check that *DB implements repository.Repository
var _ repository.Repository = (*DB)(nil)

// SQLSTATE codes we translate.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeTooManyConnections  = "53300"
)

// Constraint names referenced when mapping violations back to fields.
const (
	constraintAccountName   = "accounts_name_key"
	constraintAccountEmail  = "accounts_email_key_idx"
	constraintPostAuthor    = "posts_author_id_fkey"
	constraintMessageSender = "messages_sender_id_fkey"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL CHECK (kind IN ('person', 'business')),
	name              TEXT NOT NULL,
	email             TEXT NOT NULL,
	email_key         TEXT NOT NULL DEFAULT '',
	password_hash     TEXT NOT NULL,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	bio               TEXT NOT NULL DEFAULT '',
	rating            DOUBLE PRECISION NOT NULL DEFAULT 2.5 CHECK (rating >= 0 AND rating <= 5),
	business_name     TEXT NOT NULL DEFAULT '',
	business_category TEXT NOT NULL DEFAULT '',
	profile_photo     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	CONSTRAINT accounts_name_key UNIQUE (name),
	CONSTRAINT accounts_coordinate_check CHECK ((latitude IS NULL) = (longitude IS NULL))
);
CREATE INDEX IF NOT EXISTS accounts_kind_created_idx ON accounts (kind, created_at, id);

CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	author_id  TEXT NOT NULL,
	content    TEXT NOT NULL CHECK (length(content) > 0),
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT posts_author_id_fkey FOREIGN KEY (author_id) REFERENCES accounts (id)
);
CREATE INDEX IF NOT EXISTS posts_created_idx ON posts (created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	content     TEXT NOT NULL CHECK (length(content) > 0),
	created_at  TIMESTAMPTZ NOT NULL,
	CONSTRAINT messages_sender_id_fkey FOREIGN KEY (sender_id) REFERENCES accounts (id),
	CONSTRAINT messages_receiver_id_fkey FOREIGN KEY (receiver_id) REFERENCES accounts (id),
	CHECK (sender_id <> receiver_id)
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, created_at);
`

// DB wraps a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to dsn (a postgres:// URL or key=value string), verifies the
// connection and applies the schema.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging: %w", err)
	}

	db := &DB{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	// Exec without arguments uses the simple protocol, which accepts several
	// statements at once.
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: applying schema: %w", err)
	}

	// Databases created before email_key relied on a lower(email) index.
	if _, err := db.pool.Exec(ctx,
		`ALTER TABLE accounts ADD COLUMN IF NOT EXISTS email_key TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("postgres: adding email_key: %w", err)
	}
	if err := db.backfillEmailKeys(ctx); err != nil {
		return err
	}
	if _, err := db.pool.Exec(ctx, `
		DROP INDEX IF EXISTS accounts_email_lower_key;
		CREATE UNIQUE INDEX IF NOT EXISTS `+constraintAccountEmail+` ON accounts (email_key);`); err != nil {
		return fmt.Errorf("postgres: indexing email_key: %w", err)
	}
	return nil
}

func (db *DB) backfillEmailKeys(ctx context.Context) error {
	rows, err := db.pool.Query(ctx, `SELECT id, email FROM accounts WHERE email_key = ''`)
	if err != nil {
		return fmt.Errorf("postgres: listing accounts without email_key: %w", err)
	}
	keys := map[string]string{}
	for rows.Next() {
		var id, email string
		if err := rows.Scan(&id, &email); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scanning account email: %w", err)
		}
		keys[id] = model.EmailKey(email)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: listing accounts without email_key: %w", err)
	}

	for id, key := range keys {
		if _, err := db.pool.Exec(ctx,
			`UPDATE accounts SET email_key = $1 WHERE id = $2`, key, id); err != nil {
			return fmt.Errorf("postgres: backfilling email_key for %s: %w", id, err)
		}
	}
	return nil
}

func (db *DB) Backend() string { return "postgres" }

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// pgError extracts the server-side error, if any.
func pgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// wrap classifies transient failures as BackendUnavailable and annotates
// everything else.
func wrap(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.BackendUnavailable(op, err)
	}
	if pgErr := pgError(err); pgErr != nil {
		switch pgErr.Code {
		case codeSerialization, codeTooManyConnections:
			return apperror.BackendUnavailable(op, err)
		}
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return apperror.BackendUnavailable(op, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func toUTC(t time.Time) time.Time {
	return t.UTC()
}
