// Package memory is the in-process repository backend.
//
// It serves two purposes: it is the store used by tests that do not care
// about persistence, and it is the fallback the server switches to when the
// configured remote store cannot be reached at startup. Data lives only as
// long as the process.
//
// CONCURRENCY:
// A single sync.RWMutex guards all three collections. Writers take the full
// lock for the whole check-then-insert sequence, so two concurrent creates
// with the same email cannot both succeed.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

var _ repository.Repository = (*Store)(nil)

// Store holds accounts, posts and messages in maps keyed by id.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	byEmail  map[string]string // lower-cased email -> id
	byName   map[string]string // name -> id
	posts    map[string]*model.Post
	messages map[string]*model.Message
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*model.Account),
		byEmail:  make(map[string]string),
		byName:   make(map[string]string),
		posts:    make(map[string]*model.Post),
		messages: make(map[string]*model.Message),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *Store) Backend() string { return "memory" }

// Close is a no-op; it exists to satisfy repository.Repository.
func (s *Store) Close() error { return nil }

func (s *Store) CreateAccount(_ context.Context, account *model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[account.Name]; taken {
		return apperror.Conflict("name", account.Name)
	}
	emailKey := model.EmailKey(account.Email)
	if _, taken := s.byEmail[emailKey]; taken {
		return apperror.Conflict("email", account.Email)
	}

	account.ID = xid.New().String()
	account.CreatedAt = s.now()

	stored := cloneAccount(account)
	s.accounts[stored.ID] = stored
	s.byName[stored.Name] = stored.ID
	s.byEmail[emailKey] = stored.ID
	return nil
}

func (s *Store) FindAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[model.EmailKey(email)]
	if !ok {
		return nil, nil
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) FindAccountByName(_ context.Context, name string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	return cloneAccount(a), nil
}

func (s *Store) ListAccounts(_ context.Context, filter repository.AccountFilter) ([]model.Account, error) {
	if !filter.Kind.Valid() {
		return nil, apperror.ValidationFailed("kind", "a valid account kind is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.Kind != filter.Kind || a.ID == filter.ExcludeID {
			continue
		}
		result = append(result, *cloneAccount(a))
	}

	// Map iteration order is random; creation order is the contract.
	slices.SortFunc(result, func(a, b model.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) CreatePost(_ context.Context, post *model.Post) error {
	if err := post.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[post.AuthorID]; !ok {
		return apperror.NotFound("account", post.AuthorID)
	}

	post.ID = xid.New().String()
	post.CreatedAt = s.now()

	stored := *post
	stored.Coordinate = cloneCoordinate(post.Coordinate)
	s.posts[stored.ID] = &stored
	return nil
}

func (s *Store) ListRecentPosts(_ context.Context, limit int) ([]model.FeedPost, error) {
	limit = repository.ClampFeedLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*model.Post, 0, len(s.posts))
	for _, p := range s.posts {
		all = append(all, p)
	}
	slices.SortFunc(all, func(a, b *model.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(all) > limit {
		all = all[:limit]
	}

	feed := make([]model.FeedPost, 0, len(all))
	for _, p := range all {
		fp := model.FeedPost{Post: *p}
		fp.Coordinate = cloneCoordinate(p.Coordinate)
		if author, ok := s.accounts[p.AuthorID]; ok {
			fp.Author = author.Summary()
		}
		feed = append(feed, fp)
	}
	return feed, nil
}

func (s *Store) CreateMessage(_ context.Context, msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{msg.SenderID, msg.ReceiverID} {
		if _, ok := s.accounts[id]; !ok {
			return apperror.NotFound("account", id)
		}
	}

	msg.ID = xid.New().String()
	msg.CreatedAt = s.now()

	stored := *msg
	s.messages[stored.ID] = &stored
	return nil
}

func (s *Store) ListConversation(_ context.Context, a, b string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := make([]model.Message, 0)
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			conv = append(conv, *m)
		}
	}
	slices.SortFunc(conv, func(x, y model.Message) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return conv, nil
}

// cloneAccount copies an account so callers never share memory with the store.
func cloneAccount(a *model.Account) *model.Account {
	c := *a
	c.Coordinate = cloneCoordinate(a.Coordinate)
	return &c
}

func cloneCoordinate(c *model.Coordinate) *model.Coordinate {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
