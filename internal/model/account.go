// Package model defines the data structures used throughout the application.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sakif/nearby/internal/apperror"
)

// Kind discriminates the two flavours of Account.
type Kind string

const (
	KindPerson   Kind = "person"
	KindBusiness Kind = "business"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindPerson || k == KindBusiness
}

// ParseKind converts a raw form value into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", apperror.ValidationFailed("kind",
			fmt.Sprintf("kind must be %q or %q", KindPerson, KindBusiness))
	}
	return k, nil
}

// Rating bounds. New accounts start at the midpoint.
const (
	MinRating     = 0.0
	MaxRating     = 5.0
	DefaultRating = (MinRating + MaxRating) / 2
)

// Field limits, enforced by Validate for every backend.
const (
	MaxNameLength         = 80
	MaxEmailLength        = 120
	MaxBusinessNameLength = 100
	MaxCategoryLength     = 50
	MaxBioLength          = 2000
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
//
// An account or post either has a whole Coordinate or none at all: the field
// is a pointer, so a "half" coordinate cannot be represented.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the coordinate is finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || c.Latitude < -90 || c.Latitude > 90 {
		return apperror.ValidationFailed("latitude", "latitude must be between -90 and 90")
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) || c.Longitude < -180 || c.Longitude > 180 {
		return apperror.ValidationFailed("longitude", "longitude must be between -180 and 180")
	}
	return nil
}

// Account is a person or business identity.
//
// Name and Email are each unique across all accounts, regardless of kind.
// BusinessName and BusinessCategory are only meaningful for businesses.
type Account struct {
	ID               string      `json:"id"`
	Kind             Kind        `json:"kind"`
	Name             string      `json:"name"`
	Email            string      `json:"email"`
	PasswordHash     string      `json:"passwordHash"`
	Coordinate       *Coordinate `json:"coordinate,omitempty"`
	Bio              string      `json:"bio"`
	Rating           float64     `json:"rating"`
	BusinessName     string      `json:"businessName,omitempty"`
	BusinessCategory string      `json:"businessCategory,omitempty"`
	ProfilePhoto     string      `json:"profilePhoto,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Validate checks the invariants every backend enforces before storing a new
// account. It does not check uniqueness; that is the backend's job.
func (a *Account) Validate() error {
	if !a.Kind.Valid() {
		return apperror.ValidationFailed("kind",
			fmt.Sprintf("kind must be %q or %q", KindPerson, KindBusiness))
	}
	if strings.TrimSpace(a.Name) == "" {
		return apperror.ValidationFailed("name", "name is required")
	}
	if len(a.Name) > MaxNameLength {
		return apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	if strings.TrimSpace(a.Email) == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(a.Email) > MaxEmailLength {
		return apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	if a.PasswordHash == "" {
		return apperror.ValidationFailed("password", "password hash is required")
	}
	if a.Coordinate != nil {
		if err := a.Coordinate.Validate(); err != nil {
			return err
		}
	}
	if math.IsNaN(a.Rating) || a.Rating < MinRating || a.Rating > MaxRating {
		return apperror.ValidationFailed("rating",
			fmt.Sprintf("rating must be between %g and %g", MinRating, MaxRating))
	}
	if len(a.Bio) > MaxBioLength {
		return apperror.ValidationFailed("bio",
			fmt.Sprintf("bio must be %d characters or less", MaxBioLength))
	}
	if a.Kind == KindPerson && (a.BusinessName != "" || a.BusinessCategory != "") {
		return apperror.ValidationFailed("businessName", "business attributes are only allowed on business accounts")
	}
	if len(a.BusinessName) > MaxBusinessNameLength {
		return apperror.ValidationFailed("businessName",
			fmt.Sprintf("business name must be %d characters or less", MaxBusinessNameLength))
	}
	if len(a.BusinessCategory) > MaxCategoryLength {
		return apperror.ValidationFailed("businessCategory",
			fmt.Sprintf("business category must be %d characters or less", MaxCategoryLength))
	}
	return nil
}

// EmailKey is the form in which emails are compared: uniqueness and lookup by
// email both go through it, so every backend folds case the same way,
// including outside ASCII. The email itself is stored as given.
func EmailKey(email string) string {
	return strings.ToLower(email)
}

// Location returns the account's coordinate, or nil.
func (a Account) Location() *Coordinate {
	return a.Coordinate
}

// DisplayBusinessName falls back to the account name when a business never
// set one.
func (a Account) DisplayBusinessName() string {
	if a.BusinessName != "" {
		return a.BusinessName
	}
	return a.Name
}

// DisplayCategory falls back to the generic "Business" label.
func (a Account) DisplayCategory() string {
	if a.BusinessCategory != "" {
		return a.BusinessCategory
	}
	return "Business"
}

// Summary is the slice of an account attached to feed entries.
func (a Account) Summary() AuthorSummary {
	return AuthorSummary{
		ID:           a.ID,
		Name:         a.Name,
		Kind:         a.Kind,
		BusinessName: a.BusinessName,
	}
}
