package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/repository/repotest"
)

func TestContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Repository {
		return New()
	})
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	joe := repotest.NewAccount("joe", repotest.Coord(40.7589, -73.9851))
	require.NoError(t, s.CreateAccount(ctx, joe))

	// Mutating the caller's struct after create must not reach the store.
	joe.Coordinate.Latitude = 0
	joe.Bio = "changed"

	got, err := s.GetAccountByID(ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, 40.7589, got.Coordinate.Latitude)
	assert.Empty(t, got.Bio)

	// Nor may mutating a returned copy.
	got.Coordinate.Longitude = 0
	again, err := s.GetAccountByID(ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, -73.9851, again.Coordinate.Longitude)
}

func TestEmailIsCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, repotest.NewAccount("joe", nil)))

	found, err := s.FindAccountByEmail(ctx, "JOE@X.COM")
	require.NoError(t, err)
	require.NotNil(t, found)

	dup := repotest.NewAccount("joey", nil)
	dup.Email = "Joe@X.com"
	assert.True(t, errors.Is(s.CreateAccount(ctx, dup), apperror.ErrConflict))
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := New()
	g, ctx := errgroup.WithContext(context.Background())

	const n = 50
	for i := 0; i < n; i++ {
		g.Go(func() error {
			a := repotest.NewAccount(fmt.Sprintf("user%02d", i), nil)
			if err := s.CreateAccount(ctx, a); err != nil {
				return err
			}
			return s.CreatePost(ctx, &model.Post{AuthorID: a.ID, Content: "hello from " + a.Name})
		})
		g.Go(func() error {
			_, err := s.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindPerson})
			return err
		})
	}
	require.NoError(t, g.Wait())

	people, err := s.ListAccounts(context.Background(), repository.AccountFilter{Kind: model.KindPerson})
	require.NoError(t, err)
	assert.Len(t, people, n, "no account may be lost")

	posts, err := s.ListRecentPosts(context.Background(), repository.MaxFeedLimit)
	require.NoError(t, err)
	assert.Len(t, posts, n)
}
