package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// compile-time check that *DB implements repository.Repository
var _ repository.Repository = (*DB)(nil)

const accountColumns = `id, kind, name, email, password_hash, latitude, longitude,
	bio, rating, business_name, business_category, profile_photo, created_at`

const insertColumns = `id, kind, name, email, email_key, password_hash, latitude, longitude,
	bio, rating, business_name, business_category, profile_photo, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount reads one accounts row. Latitude and longitude are nullable, so
// they go through sql.NullFloat64 and become a *Coordinate only when both are set.
func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a        model.Account
		lat, lng sql.NullFloat64
	)
	err := row.Scan(
		&a.ID, &a.Kind, &a.Name, &a.Email, &a.PasswordHash, &lat, &lng,
		&a.Bio, &a.Rating, &a.BusinessName, &a.BusinessCategory, &a.ProfilePhoto, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Coordinate = coordinateFromNull(lat, lng)
	return &a, nil
}

func coordinateFromNull(lat, lng sql.NullFloat64) *model.Coordinate {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.Coordinate{Latitude: lat.Float64, Longitude: lng.Float64}
}

func coordinateToNull(c *model.Coordinate) (lat, lng sql.NullFloat64) {
	if c == nil {
		return lat, lng
	}
	return sql.NullFloat64{Float64: c.Latitude, Valid: true},
		sql.NullFloat64{Float64: c.Longitude, Valid: true}
}

// CreateAccount inserts a new account and fills in its ID and CreatedAt.
//
// There is no "does this email exist?" SELECT first: two concurrent
// registrations could both pass it. The UNIQUE constraints decide, and the
// violation is translated into apperror.Conflict naming the offending field.
func (db *DB) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	id := xid.New().String()
	createdAt := db.now()
	lat, lng := coordinateToNull(account.Coordinate)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+insertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		account.Kind,
		account.Name,
		account.Email,
		model.EmailKey(account.Email),
		account.PasswordHash,
		lat,
		lng,
		account.Bio,
		account.Rating,
		account.BusinessName,
		account.BusinessCategory,
		account.ProfilePhoto,
		createdAt,
	)
	if err != nil {
		if constraintKind(err) == "unique" {
			// Files created before email_key still carry a UNIQUE on email
			// itself; either index names an email collision.
			if strings.Contains(err.Error(), "accounts.email") {
				return apperror.Conflict("email", account.Email)
			}
			return apperror.Conflict("name", account.Name)
		}
		return wrap("creating account", err)
	}

	account.ID = id
	account.CreatedAt = createdAt
	return nil
}

// FindAccountByEmail returns (nil, nil) when no account has that email.
// The match goes through email_key, so it ignores case.
func (db *DB) FindAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return db.findAccount(ctx, "email_key", model.EmailKey(email))
}

// FindAccountByName returns (nil, nil) when no account has that name.
func (db *DB) FindAccountByName(ctx context.Context, name string) (*model.Account, error) {
	return db.findAccount(ctx, "name", name)
}

func (db *DB) findAccount(ctx context.Context, column, value string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`,
		value,
	)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrap(fmt.Sprintf("finding account by %s", column), err)
	}
	return a, nil
}

// GetAccountByID retrieves an account by ID.
// Returns apperror.ErrNotFound if no account exists with that ID.
func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`,
		id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", id)
		}
		return nil, wrap(fmt.Sprintf("getting account %s", id), err)
	}
	return a, nil
}

// ListAccounts returns every account of filter.Kind except filter.ExcludeID,
// in creation order.
func (db *DB) ListAccounts(ctx context.Context, filter repository.AccountFilter) ([]model.Account, error) {
	if !filter.Kind.Valid() {
		return nil, apperror.ValidationFailed("kind", "a valid account kind is required")
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE kind = ? AND id <> ?
		 ORDER BY created_at, id`,
		filter.Kind,
		filter.ExcludeID,
	)
	if err != nil {
		return nil, wrap("listing accounts", err)
	}
	defer rows.Close()

	accounts := make([]model.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, wrap("scanning account row", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterating accounts", err)
	}

	return accounts, nil
}

// missingAccount returns the first of ids that has no accounts row, or "".
// Used to turn an anonymous FOREIGN KEY failure into a NotFound naming the id.
func (db *DB) missingAccount(ctx context.Context, ids ...string) (string, error) {
	for _, id := range ids {
		var exists bool
		err := db.conn.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, id,
		).Scan(&exists)
		if err != nil {
			return "", wrap("checking account existence", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", nil
}
