package auth

// SESSION TOKENS:
// A session token is an HS256-signed JWT:
//
//	HEADER.PAYLOAD.SIGNATURE
//	payload: {"iss":"nearby","sub":"<account id>","jti":"<session id>","iat":...,"exp":...}
//
// The signature lets the server reject forged or altered tokens without any
// lookup. It is NOT the source of truth for "logged in": the session table in
// internal/session is, so logout takes effect immediately even though the
// token itself would still verify until it expires.

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "nearby"

// ErrTokenExpired is returned by Parse for a well-formed token past its expiry.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and verifies session tokens.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given HMAC secret.
// The secret should be at least 32 bytes of random data in production:
//
//	JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// TokenClaims is what a verified token says about its session.
type TokenClaims struct {
	SessionID string
	AccountID string
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
}

// Issue signs a token for the given session, valid for ttl.
func (s *TokenService) Issue(sessionID, accountID string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(ttl)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   accountID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token's signature, issuer, algorithm and expiry.
//
// jwt.WithValidMethods pins HS256, so a token claiming "alg":"none" or an
// asymmetric algorithm is rejected before the key is ever used.
func (s *TokenService) Parse(tokenStr string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if c.ID == "" || c.Subject == "" {
		return nil, errors.New("auth: token has no session or subject")
	}

	return &TokenClaims{
		SessionID: c.ID,
		AccountID: c.Subject,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
