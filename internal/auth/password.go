// Package auth holds the credential primitives behind login: bcrypt password
// hashing and signed session tokens.
//
// WHY BCRYPT?
// bcrypt is deliberately slow, salts every hash with fresh randomness and
// embeds salt and cost in its output, so the stored string is all that is
// needed to verify a password later:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// Passwords are never stored or compared in plaintext.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/nearby/internal/apperror"
)

// defaultCost is the bcrypt work factor used in production.
const defaultCost = 12

// Password length limits. bcrypt silently ignores everything after 72 bytes,
// so longer passwords are rejected rather than truncated.
const (
	MinPasswordLength   = 6
	MaxPasswordBytes    = 72
	dummyPasswordSource = "nearby-dummy-password"
)

// ErrMismatch is returned by Verify when the password does not match.
var ErrMismatch = errors.New("auth: invalid password")

// PasswordService hashes and verifies account passwords.
//
// The cost is a field so tests can run at bcrypt's minimum cost.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with the given cost,
// normally bcrypt.MinCost. Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// ValidatePassword checks the plaintext rules without hashing.
func ValidatePassword(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(plaintext) > MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordBytes))
	}
	return nil
}

// Hash validates and hashes a plaintext password. The result is what goes
// into Account.PasswordHash.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if err := ValidatePassword(plaintext); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext password against a stored hash.
//
// Returns nil on a match and ErrMismatch on a wrong password. Any other error
// means the stored hash itself is unusable.
//
// bcrypt.CompareHashAndPassword compares in constant time, so response time
// does not reveal how much of the password was right.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy spends the same bcrypt work as Verify against a hash no real
// password matches. Login calls it for unknown emails, so "no such account"
// and "wrong password" take the same time. It always returns ErrMismatch.
func (p *PasswordService) VerifyDummy(plaintext string) error {
	p.dummyOnce.Do(func() {
		// Generating at the service's own cost keeps the timing equal.
		h, err := bcrypt.GenerateFromPassword([]byte(dummyPasswordSource), p.cost)
		if err == nil {
			p.dummyHash = h
		}
	})
	if p.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
	}
	return ErrMismatch
}
