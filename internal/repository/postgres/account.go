package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

const accountColumns = `id, kind, name, email, password_hash, latitude, longitude,
	bio, rating, business_name, business_category, profile_photo, created_at`

const insertColumns = `id, kind, name, email, email_key, password_hash, latitude, longitude,
	bio, rating, business_name, business_category, profile_photo, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a        model.Account
		kind     string
		lat, lng *float64
	)
	err := row.Scan(
		&a.ID, &kind, &a.Name, &a.Email, &a.PasswordHash, &lat, &lng,
		&a.Bio, &a.Rating, &a.BusinessName, &a.BusinessCategory, &a.ProfilePhoto, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = model.Kind(kind)
	a.Coordinate = coordinateFrom(lat, lng)
	a.CreatedAt = toUTC(a.CreatedAt)
	return &a, nil
}

func coordinateFrom(lat, lng *float64) *model.Coordinate {
	if lat == nil || lng == nil {
		return nil
	}
	return &model.Coordinate{Latitude: *lat, Longitude: *lng}
}

func coordinateArgs(c *model.Coordinate) (lat, lng *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Latitude, &c.Longitude
}

// CreateAccount inserts an account. Uniqueness is left to the constraints;
// the violated constraint's name tells us which field collided.
func (db *DB) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	id := xid.New().String()
	createdAt := db.now()
	lat, lng := coordinateArgs(account.Coordinate)

	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (`+insertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id,
		string(account.Kind),
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
		if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeUniqueViolation {
			switch pgErr.ConstraintName {
			case constraintAccountEmail:
				return apperror.Conflict("email", account.Email)
			case constraintAccountName:
				return apperror.Conflict("name", account.Name)
			}
		}
		return wrap("creating account", err)
	}

	account.ID = id
	account.CreatedAt = createdAt
	return nil
}

func (db *DB) FindAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return db.findAccount(ctx, "finding account by email",
		`SELECT `+accountColumns+` FROM accounts WHERE email_key = $1`, model.EmailKey(email))
}

func (db *DB) FindAccountByName(ctx context.Context, name string) (*model.Account, error) {
	return db.findAccount(ctx, "finding account by name",
		`SELECT `+accountColumns+` FROM accounts WHERE name = $1`, name)
}

func (db *DB) findAccount(ctx context.Context, op, query string, arg any) (*model.Account, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return a, nil
}

func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := db.findAccount(ctx, "getting account",
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperror.NotFound("account", id)
	}
	return a, nil
}

func (db *DB) ListAccounts(ctx context.Context, filter repository.AccountFilter) ([]model.Account, error) {
	if !filter.Kind.Valid() {
		return nil, apperror.ValidationFailed("kind",
			fmt.Sprintf("kind must be %q or %q", model.KindPerson, model.KindBusiness))
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE kind = $1 AND id <> $2
		 ORDER BY created_at, id`,
		string(filter.Kind), filter.ExcludeID,
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
