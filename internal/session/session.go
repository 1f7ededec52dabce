// Package session maps opaque session tokens to logged-in accounts.
//
// A session is created by a successful Login and destroyed by Logout or by
// expiry. It remembers the account id, kind and the coordinate the account had
// at login time; that snapshot is never refreshed, so callers that need a
// fresh location re-read the account from the repository.
//
// Sessions live only in this process. Every service call receives the
// *Session explicitly; nothing reads "the current user" from global state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// DefaultTTL is how long a session lasts without an explicit logout.
const DefaultTTL = 24 * time.Hour

const invalidCredentials = "invalid email or password"

// Session is an authenticated identity.
type Session struct {
	ID         string
	Token      string
	AccountID  string
	Kind       model.Kind
	Coordinate *model.Coordinate // login-time snapshot, may be nil
	ExpiresAt  time.Time
}

// Location returns the coordinate snapshot, or nil.
func (s *Session) Location() *model.Coordinate {
	return s.Coordinate
}

// Resolver owns the session table.
type Resolver struct {
	accounts  repository.AccountRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session // keyed by session id (the token's jti)
}

// NewResolver creates a Resolver. A ttl <= 0 means DefaultTTL.
func NewResolver(
	accounts repository.AccountRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	ttl time.Duration,
	logger *slog.Logger,
) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		accounts:  accounts,
		passwords: passwords,
		tokens:    tokens,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Login checks the credentials and creates a session.
//
// Unknown email and wrong password both yield the same Unauthorized error and
// take the same bcrypt time. No session exists after a failed Login. Storage
// failures are returned as they are, never disguised as bad credentials.
func (r *Resolver) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)

	account, err := r.accounts.FindAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		_ = r.passwords.VerifyDummy(password)
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	if err := r.passwords.Verify(account.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrMismatch) {
			r.logger.Error("stored password hash is unusable",
				slog.String("account_id", account.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	id := uuid.NewString()
	token, expires, err := r.tokens.Issue(id, account.ID, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("session: issuing token: %w", err)
	}

	sess := &Session{
		ID:         id,
		Token:      token,
		AccountID:  account.ID,
		Kind:       account.Kind,
		Coordinate: account.Coordinate,
		ExpiresAt:  expires,
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.logger.Info("session created",
		slog.String("account_id", account.ID),
		slog.String("session_id", id),
	)
	return sess, nil
}

// Logout destroys the session behind token. Unknown or malformed tokens are
// ignored: the caller ends up anonymous either way.
func (r *Resolver) Logout(token string) {
	claims, err := r.tokens.Parse(token)
	if err != nil {
		// An expired token's session is dead too; drop it with the rest.
		r.sweep()
		return
	}

	r.mu.Lock()
	delete(r.sessions, claims.SessionID)
	r.mu.Unlock()
}

// Require resolves token to a live session or fails with Unauthorized.
func (r *Resolver) Require(token string) (*Session, error) {
	if token == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	claims, err := r.tokens.Parse(token)
	if err != nil {
		return nil, apperror.Unauthorized("session expired or invalid")
	}

	r.mu.RLock()
	sess, ok := r.sessions[claims.SessionID]
	r.mu.RUnlock()

	if !ok || sess.AccountID != claims.AccountID {
		return nil, apperror.Unauthorized("session expired or invalid")
	}
	if !r.now().Before(sess.ExpiresAt) {
		r.mu.Lock()
		delete(r.sessions, sess.ID)
		r.mu.Unlock()
		return nil, apperror.Unauthorized("session expired or invalid")
	}

	clone := *sess
	return &clone, nil
}

// Current returns the account behind token, or (nil, nil) when the caller is
// anonymous. The account is re-read from the repository.
func (r *Resolver) Current(ctx context.Context, token string) (*model.Account, error) {
	sess, err := r.Require(token)
	if err != nil {
		return nil, nil
	}

	account, err := r.accounts.GetAccountByID(ctx, sess.AccountID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Active returns the number of live sessions.
func (r *Resolver) Active() int {
	r.sweep()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// sweep drops expired sessions.
func (r *Resolver) sweep() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(r.sessions, id)
		}
	}
}
