// Package repotest is the contract test suite every repository backend runs.
//
// A backend's own _test.go calls Run with a factory that returns a fresh,
// empty repository. Because every backend runs the exact same assertions, a
// passing suite is the evidence that swapping backends does not change what
// callers observe.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// Factory returns a new, empty repository. It should register its own cleanup.
type Factory func(t *testing.T) repository.Repository

// Run executes the whole contract against the backend produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, repo repository.Repository)
	}{
		{"CreateAccountAssignsIdentity", testCreateAccountAssignsIdentity},
		{"CreateAccountRejectsInvalid", testCreateAccountRejectsInvalid},
		{"DuplicateEmailConflicts", testDuplicateEmailConflicts},
		{"DuplicateEmailIgnoresCase", testDuplicateEmailIgnoresCase},
		{"DuplicateNameConflicts", testDuplicateNameConflicts},
		{"FindAccountAbsentIsNil", testFindAccountAbsentIsNil},
		{"FindAccountByEmailAndName", testFindAccountByEmailAndName},
		{"GetAccountByIDNotFound", testGetAccountByIDNotFound},
		{"ListAccountsByKindAndExclude", testListAccountsByKindAndExclude},
		{"CreatePostValidation", testCreatePostValidation},
		{"CreatePostUnknownAuthor", testCreatePostUnknownAuthor},
		{"ListRecentPostsOrderAndLimit", testListRecentPostsOrderAndLimit},
		{"CreateMessageAndConversation", testCreateMessageAndConversation},
		{"CreateMessageValidation", testCreateMessageValidation},
		{"ConcurrentDuplicateCreates", testConcurrentDuplicateCreates},
		{"ScenarioMatchesGolden", testScenarioMatchesGolden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

// NewAccount builds a valid person account with a throwaway hash.
func NewAccount(name string, coord *model.Coordinate) *model.Account {
	return &model.Account{
		Kind:         model.KindPerson,
		Name:         name,
		Email:        name + "@x.com",
		PasswordHash: "$2a$04$notarealhashnotarealhashnotarealhashnotarealhashnot",
		Coordinate:   coord,
		Rating:       model.DefaultRating,
	}
}

// NewBusiness builds a valid business account.
func NewBusiness(name, businessName, category string, coord *model.Coordinate) *model.Account {
	a := NewAccount(name, coord)
	a.Kind = model.KindBusiness
	a.BusinessName = businessName
	a.BusinessCategory = category
	return a
}

// Coord is a convenience for &model.Coordinate{...}.
func Coord(lat, lng float64) *model.Coordinate {
	return &model.Coordinate{Latitude: lat, Longitude: lng}
}

func mustCreate(t *testing.T, repo repository.Repository, a *model.Account) *model.Account {
	t.Helper()
	require.NoError(t, repo.CreateAccount(context.Background(), a), "creating %s", a.Name)
	return a
}

func mustPost(t *testing.T, repo repository.Repository, authorID, content string) *model.Post {
	t.Helper()
	p := &model.Post{AuthorID: authorID, Content: content}
	require.NoError(t, repo.CreatePost(context.Background(), p))
	return p
}

func testCreateAccountAssignsIdentity(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	before := time.Now().Add(-time.Second)

	a := NewBusiness("joes_coffee", "Joe's Coffee Shop", "Restaurant", Coord(40.7589, -73.9851))
	a.Bio = "Best coffee in the neighborhood since 1995"
	a.ProfilePhoto = "https://example.com/joe.png"
	require.NoError(t, repo.CreateAccount(ctx, a))

	require.NotEmpty(t, a.ID)
	assert.True(t, a.CreatedAt.After(before), "CreatedAt = %v", a.CreatedAt)

	got, err := repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("GetAccountByID() mismatch (-created +stored):\n%s", diff)
	}
}

func testCreateAccountRejectsInvalid(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	bad := NewAccount("", nil)
	err := repo.CreateAccount(ctx, bad)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)

	bad = NewAccount("rater", nil)
	bad.Rating = 9
	err = repo.CreateAccount(ctx, bad)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)
}

func testDuplicateEmailConflicts(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	mustCreate(t, repo, NewAccount("joe", Coord(40.7589, -73.9851)))

	dup := NewAccount("joseph", nil)
	dup.Email = "joe@x.com"
	err := repo.CreateAccount(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v", err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "email", appErr.Field)
}

// Emails that differ only in letter case are the same email, also outside
// ASCII, and the address is kept as it was written.
func testDuplicateEmailIgnoresCase(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored string
		other  string
	}{
		{"ascii", "joe@x.com", "JOE@X.COM"},
		{"ascii stored upper", "ANN@X.COM", "ann@x.com"},
		{"diaeresis", "ZOË@x.com", "zoë@x.com"},
		{"ring above", "åsa@x.com", "ÅSA@x.com"},
		{"cyrillic", "ИВАН@x.com", "иван@x.com"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := NewAccount(fmt.Sprintf("first%d", i), nil)
			first.Email = tt.stored
			mustCreate(t, repo, first)

			found, err := repo.FindAccountByEmail(ctx, tt.other)
			require.NoError(t, err)
			require.NotNil(t, found, "lookup by %q", tt.other)
			assert.Equal(t, first.ID, found.ID)
			assert.Equal(t, tt.stored, found.Email)

			dup := NewAccount(fmt.Sprintf("second%d", i), nil)
			dup.Email = tt.other
			err = repo.CreateAccount(ctx, dup)
			require.True(t, errors.Is(err, apperror.ErrConflict), "error = %v", err)

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "email", appErr.Field)
		})
	}
}

func testDuplicateNameConflicts(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	mustCreate(t, repo, NewAccount("joe", nil))

	// Different email, different coordinate, different kind: still a conflict.
	dup := NewBusiness("joe", "Joe's", "Retail", Coord(1, 1))
	dup.Email = "other@x.com"
	err := repo.CreateAccount(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v", err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "name", appErr.Field)
}

func testFindAccountAbsentIsNil(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	got, err := repo.FindAccountByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindAccountByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testFindAccountByEmailAndName(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	ann := mustCreate(t, repo, NewAccount("ann", Coord(40.7505, -73.9934)))

	byEmail, err := repo.FindAccountByEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, ann.ID, byEmail.ID)
	assert.Equal(t, ann.PasswordHash, byEmail.PasswordHash)

	byName, err := repo.FindAccountByName(ctx, "ann")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, ann.ID, byName.ID)
	require.NotNil(t, byName.Coordinate)
	assert.Equal(t, *ann.Coordinate, *byName.Coordinate)
}

func testGetAccountByIDNotFound(t *testing.T, repo repository.Repository) {
	// "lookup" and friends must not collide with any route or keyword a
	// backend uses internally.
	for _, id := range []string{"does-not-exist", "lookup", "account-lookup", "accounts"} {
		_, err := repo.GetAccountByID(context.Background(), id)
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "id %q: error = %v", id, err)
	}
}

func testListAccountsByKindAndExclude(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	joe := mustCreate(t, repo, NewAccount("joe", Coord(40.7589, -73.9851)))
	mustCreate(t, repo, NewAccount("ann", Coord(40.7505, -73.9934)))
	mustCreate(t, repo, NewAccount("ghost", nil))
	mustCreate(t, repo, NewBusiness("marios_pizza", "Mario's Authentic Pizza", "Restaurant", Coord(40.7614, -73.9776)))

	people, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindPerson, ExcludeID: joe.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann", "ghost"}, names(people))

	all, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindPerson})
	require.NoError(t, err)
	assert.Equal(t, []string{"joe", "ann", "ghost"}, names(all))

	businesses, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindBusiness, ExcludeID: joe.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"marios_pizza"}, names(businesses))
	for _, b := range businesses {
		assert.Equal(t, model.KindBusiness, b.Kind)
	}

	_, err = repo.ListAccounts(ctx, repository.AccountFilter{Kind: "robot"})
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)
}

func testCreatePostValidation(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	joe := mustCreate(t, repo, NewAccount("joe", nil))

	err := repo.CreatePost(ctx, &model.Post{AuthorID: joe.ID, Content: "   "})
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)

	posts, err := repo.ListRecentPosts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, posts, "a rejected post must not be stored")
}

func testCreatePostUnknownAuthor(t *testing.T, repo repository.Repository) {
	err := repo.CreatePost(context.Background(), &model.Post{AuthorID: "missing", Content: "hello"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v", err)
}

func testListRecentPostsOrderAndLimit(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	joe := mustCreate(t, repo, NewAccount("joe", nil))
	shop := mustCreate(t, repo, NewBusiness("joes_coffee", "Joe's Coffee Shop", "Restaurant", nil))

	for i := 0; i < 12; i++ {
		author := joe
		if i%3 == 0 {
			author = shop
		}
		p := &model.Post{AuthorID: author.ID, Content: fmt.Sprintf("post %02d", i), Coordinate: Coord(40.75, -73.99)}
		require.NoError(t, repo.CreatePost(ctx, p))
	}

	posts, err := repo.ListRecentPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posts, 10)

	assert.Equal(t, "post 11", posts[0].Content)
	assert.Equal(t, "post 02", posts[9].Content)
	for i := 1; i < len(posts); i++ {
		assert.False(t, posts[i].CreatedAt.After(posts[i-1].CreatedAt), "posts must be newest first")
	}

	for _, p := range posts {
		require.NotNil(t, p.Coordinate)
		switch p.AuthorID {
		case shop.ID:
			assert.Equal(t, model.AuthorSummary{ID: shop.ID, Name: "joes_coffee", Kind: model.KindBusiness, BusinessName: "Joe's Coffee Shop"}, p.Author)
		case joe.ID:
			assert.Equal(t, model.AuthorSummary{ID: joe.ID, Name: "joe", Kind: model.KindPerson}, p.Author)
		default:
			t.Errorf("unexpected author %q", p.AuthorID)
		}
	}

	few, err := repo.ListRecentPosts(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, few, 3)

	defaulted, err := repo.ListRecentPosts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, defaulted, repository.DefaultFeedLimit)
}

func testCreateMessageAndConversation(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	joe := mustCreate(t, repo, NewAccount("joe", nil))
	ann := mustCreate(t, repo, NewAccount("ann", nil))
	bob := mustCreate(t, repo, NewAccount("bob", nil))

	send := func(from, to *model.Account, text string) {
		t.Helper()
		m := &model.Message{SenderID: from.ID, ReceiverID: to.ID, Content: text}
		require.NoError(t, repo.CreateMessage(ctx, m))
		require.NotEmpty(t, m.ID)
		require.False(t, m.CreatedAt.IsZero())
	}
	send(joe, ann, "hi ann")
	send(ann, joe, "hi joe")
	send(bob, ann, "hey ann, bob here")
	send(joe, ann, "coffee?")

	conv, err := repo.ListConversation(ctx, ann.ID, joe.ID)
	require.NoError(t, err)

	texts := make([]string, len(conv))
	for i, m := range conv {
		texts[i] = m.Content
	}
	assert.Equal(t, []string{"hi ann", "hi joe", "coffee?"}, texts)

	empty, err := repo.ListConversation(ctx, joe.ID, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testCreateMessageValidation(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	joe := mustCreate(t, repo, NewAccount("joe", nil))
	ann := mustCreate(t, repo, NewAccount("ann", nil))

	err := repo.CreateMessage(ctx, &model.Message{SenderID: joe.ID, ReceiverID: joe.ID, Content: "me"})
	assert.True(t, errors.Is(err, apperror.ErrValidation), "self message: %v", err)

	err = repo.CreateMessage(ctx, &model.Message{SenderID: joe.ID, ReceiverID: ann.ID, Content: ""})
	assert.True(t, errors.Is(err, apperror.ErrValidation), "empty message: %v", err)

	err = repo.CreateMessage(ctx, &model.Message{SenderID: joe.ID, ReceiverID: "missing", Content: "hello?"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "unknown receiver: %v", err)
}

// testConcurrentDuplicateCreates races several creates of the same email.
// Exactly one must win; the rest must be Conflict, never a lost update.
func testConcurrentDuplicateCreates(t *testing.T, repo repository.Repository) {
	const writers = 8
	var created, conflicts atomic.Int32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			a := NewAccount(fmt.Sprintf("racer%d", i), nil)
			a.Email = "race@x.com"
			err := repo.CreateAccount(ctx, a)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, apperror.ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())
}

// Observation is what a caller can see after running Scenario, stripped of
// ids and timestamps.
type Observation struct {
	People       []string
	Businesses   []string
	Feed         []string
	Conflicts    []string
	Conversation []string
}

// Scenario drives a fixed sequence of calls and records the results. It is
// exported so other packages can compare a backend against the golden value.
func Scenario(ctx context.Context, repo repository.Repository) (Observation, error) {
	var obs Observation

	joe := NewAccount("joe", Coord(40.7589, -73.9851))
	ann := NewAccount("ann", Coord(40.7505, -73.9934))
	shop := NewBusiness("joes_coffee", "Joe's Coffee Shop", "Restaurant", Coord(40.7614, -73.9776))
	for _, a := range []*model.Account{joe, ann, shop} {
		if err := repo.CreateAccount(ctx, a); err != nil {
			return obs, fmt.Errorf("creating %s: %w", a.Name, err)
		}
	}

	for _, dup := range []*model.Account{NewAccount("joe", nil), NewAccount("joe2", nil)} {
		if dup.Name == "joe2" {
			dup.Email = "ann@x.com"
		}
		err := repo.CreateAccount(ctx, dup)
		obs.Conflicts = append(obs.Conflicts, apperror.Kind(err))
	}

	for i, text := range []string{"Best lunch spots near Times Square?", "Yoga in the park at 8", "Fresh espresso today"} {
		author := []*model.Account{joe, ann, shop}[i]
		p := &model.Post{AuthorID: author.ID, Content: text, Coordinate: author.Coordinate}
		if err := repo.CreatePost(ctx, p); err != nil {
			return obs, fmt.Errorf("creating post: %w", err)
		}
	}

	people, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindPerson, ExcludeID: joe.ID})
	if err != nil {
		return obs, err
	}
	obs.People = names(people)

	businesses, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindBusiness})
	if err != nil {
		return obs, err
	}
	obs.Businesses = names(businesses)

	feed, err := repo.ListRecentPosts(ctx, 2)
	if err != nil {
		return obs, err
	}
	for _, p := range feed {
		obs.Feed = append(obs.Feed, p.Author.Name+": "+p.Content)
	}

	for _, m := range []*model.Message{
		{SenderID: joe.ID, ReceiverID: ann.ID, Content: "lunch?"},
		{SenderID: ann.ID, ReceiverID: joe.ID, Content: "sure"},
	} {
		if err := repo.CreateMessage(ctx, m); err != nil {
			return obs, err
		}
	}
	conv, err := repo.ListConversation(ctx, joe.ID, ann.ID)
	if err != nil {
		return obs, err
	}
	for _, m := range conv {
		obs.Conversation = append(obs.Conversation, m.Content)
	}

	return obs, nil
}

// Golden is the Observation every backend must produce from Scenario.
var Golden = Observation{
	People:       []string{"ann"},
	Businesses:   []string{"joes_coffee"},
	Feed:         []string{"joes_coffee: Fresh espresso today", "ann: Yoga in the park at 8"},
	Conflicts:    []string{"conflict", "conflict"},
	Conversation: []string{"lunch?", "sure"},
}

func testScenarioMatchesGolden(t *testing.T, repo repository.Repository) {
	got, err := Scenario(context.Background(), repo)
	require.NoError(t, err)
	if diff := cmp.Diff(Golden, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Scenario() mismatch (-want +got):\n%s", diff)
	}
}

func names(accounts []model.Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Name
	}
	return out
}
