package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/sakif/nearby/internal/apperror"
)

// MaxContentLength caps post and message bodies.
const MaxContentLength = 5000

// Post is a location-tagged forum entry. Coordinate is the author's location
// at the moment of posting and is never updated afterwards.
type Post struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"authorId"`
	Content    string      `json:"content"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Validate checks a post before it is stored. Content is trimmed in place.
func (p *Post) Validate() error {
	if strings.TrimSpace(p.AuthorID) == "" {
		return apperror.ValidationFailed("authorId", "author is required")
	}
	content, err := validateContent(p.Content)
	if err != nil {
		return err
	}
	p.Content = content
	if p.Coordinate != nil {
		if err := p.Coordinate.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the post's coordinate snapshot, or nil.
func (p Post) Location() *Coordinate {
	return p.Coordinate
}

// AuthorSummary is the part of an Account shown next to a post.
type AuthorSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	BusinessName string `json:"businessName,omitempty"`
}

// FeedPost is a Post joined with its author.
type FeedPost struct {
	Post
	Author AuthorSummary `json:"author"`
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperror.ValidationFailed("content", "content is required")
	}
	if len(content) > MaxContentLength {
		return "", apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d characters or less", MaxContentLength))
	}
	return content, nil
}
