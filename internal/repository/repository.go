// Package repository defines the storage contract of the directory.
//
// Every backend (sqlite, postgres, memory, remote) implements Repository with
// identical observable behaviour, so services and tests never care which one
// is active. The shared contract test suite in repotest is the arbiter of
// "identical".
//
// ERRORS EVERY BACKEND MUST RETURN:
//   - apperror.ErrConflict           display name or email already taken
//   - apperror.ErrNotFound           GetAccountByID on a missing id, or a post/message
//     referencing a missing account
//   - apperror.ErrValidation         malformed record (see model.*.Validate)
//   - apperror.ErrBackendUnavailable transient storage or network failure
//
// "Absent" is not an error for the Find* lookups: they return (nil, nil).
package repository

import (
	"context"

	"github.com/sakif/nearby/internal/model"
)

// Feed page sizes.
const (
	DefaultFeedLimit = 10
	MaxFeedLimit     = 100
)

// ClampFeedLimit applies the default and maximum page size. Every backend
// calls it so that a given limit means the same thing everywhere.
func ClampFeedLimit(limit int) int {
	if limit <= 0 {
		return DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		return MaxFeedLimit
	}
	return limit
}

// AccountFilter selects accounts for ListAccounts.
type AccountFilter struct {
	Kind      model.Kind // required
	ExcludeID string     // optional: drop this one account
}

// AccountRepository owns Account records.
type AccountRepository interface {
	// CreateAccount assigns ID and CreatedAt on the passed account.
	CreateAccount(ctx context.Context, account *model.Account) error
	FindAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	FindAccountByName(ctx context.Context, name string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	// ListAccounts returns accounts of one kind in creation order.
	ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error)
}

// PostRepository owns the forum feed.
type PostRepository interface {
	CreatePost(ctx context.Context, post *model.Post) error
	// ListRecentPosts returns newest first, at most ClampFeedLimit(limit).
	ListRecentPosts(ctx context.Context, limit int) ([]model.FeedPost, error)
}

// MessageRepository owns private messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	// ListConversation returns messages exchanged between a and b, in either
	// direction, oldest first.
	ListConversation(ctx context.Context, a, b string) ([]model.Message, error)
}

// Repository is the full contract a backend implements.
type Repository interface {
	AccountRepository
	PostRepository
	MessageRepository

	// Backend names the concrete implementation ("sqlite", "memory", ...).
	Backend() string
	Close() error
}
