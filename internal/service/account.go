// Package service contains the operations the HTTP layer (or any other
// caller) invokes: registration, profiles, proximity listings, the feed and
// private messages.
//
// Services accept primitives and an explicit *session.Session, never HTTP
// types, and return apperror values that the caller maps to its own protocol.
// They depend on repository interfaces, so the same code runs against every
// storage backend.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/session"
)

// RegisterInput is a registration as a form submits it: every field a raw
// string. Register converts and validates them.
type RegisterInput struct {
	Name             string
	Email            string
	Password         string
	Kind             string
	Latitude         string
	Longitude        string
	Bio              string
	BusinessName     string
	BusinessCategory string
	ProfilePhoto     string
}

// AccountService handles registration, profiles and proximity listings.
type AccountService struct {
	repo      repository.AccountRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAccountService(repo repository.AccountRepository, passwords *auth.PasswordService, logger *slog.Logger) *AccountService {
	return &AccountService{
		repo:      repo,
		passwords: passwords,
		logger:    logger,
	}
}

// Register validates input, hashes the password and creates the account.
//
// Name and email are looked up first so the common case gets a clear message
// for the right field. That lookup is only advisory: two registrations can
// both pass it, and the backend's own uniqueness check then turns the loser
// into apperror.ErrConflict.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)

	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperror.ValidationFailed("email", "email address is not valid")
	}

	kind, err := model.ParseKind(in.Kind)
	if err != nil {
		return nil, err
	}

	coord, err := geo.ParseCoordinate(in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Kind:         kind,
		Name:         name,
		Email:        email,
		Coordinate:   coord,
		Bio:          strings.TrimSpace(in.Bio),
		Rating:       model.DefaultRating,
		ProfilePhoto: strings.TrimSpace(in.ProfilePhoto),
	}
	if kind == model.KindBusiness {
		account.BusinessName = strings.TrimSpace(in.BusinessName)
		account.BusinessCategory = strings.TrimSpace(in.BusinessCategory)
	}

	// Cheap checks before the deliberately slow hash.
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	account.PasswordHash = "pending"
	if err := account.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindAccountByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperror.Conflict("name", name)
	}
	if existing, err := s.repo.FindAccountByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperror.Conflict("email", email)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	account.PasswordHash = hash

	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account registered",
		slog.String("id", account.ID),
		slog.String("kind", string(account.Kind)),
	)
	return account, nil
}

// Profile returns the account with the given id.
func (s *AccountService) Profile(ctx context.Context, id string) (*model.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "account id is required")
	}
	return s.repo.GetAccountByID(ctx, id)
}

// NearbyPeople lists other people within radiusKm of the caller, nearest
// first. geo.NoLimit, or 0, means everyone with a known location.
func (s *AccountService) NearbyPeople(ctx context.Context, sess *session.Session, radiusKm float64) ([]geo.Result[model.Account], error) {
	return s.nearby(ctx, sess, model.KindPerson, radiusKm)
}

// NearbyBusinesses lists businesses within radiusKm of the caller, nearest
// first. A business never sees itself.
func (s *AccountService) NearbyBusinesses(ctx context.Context, sess *session.Session, radiusKm float64) ([]geo.Result[model.Account], error) {
	return s.nearby(ctx, sess, model.KindBusiness, radiusKm)
}

func (s *AccountService) nearby(ctx context.Context, sess *session.Session, kind model.Kind, radiusKm float64) ([]geo.Result[model.Account], error) {
	if sess == nil {
		return nil, apperror.Unauthorized("authentication required")
	}

	q := geo.Query{Center: Center(sess), RadiusKm: geo.OrNoLimit(radiusKm)}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	accounts, err := s.repo.ListAccounts(ctx, repository.AccountFilter{Kind: kind, ExcludeID: sess.AccountID})
	if err != nil {
		return nil, fmt.Errorf("listing %s accounts: %w", kind, err)
	}
	return geo.Nearby(q, accounts)
}

// Center is where proximity queries for sess are anchored: the login-time
// coordinate, or geo.DefaultCenter when the account has none.
func Center(sess *session.Session) model.Coordinate {
	if c := sess.Location(); c != nil {
		return *c
	}
	return geo.DefaultCenter
}
