package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/repository/memory"
	"github.com/sakif/nearby/internal/session"
)

type services struct {
	repo     *memory.Store
	accounts *AccountService
	feed     *FeedService
	messages *MessageService
}

func newServices(t *testing.T) *services {
	t.Helper()
	repo := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &services{
		repo:     repo,
		accounts: NewAccountService(repo, auth.NewPasswordServiceForTest(bcrypt.MinCost), logger),
		feed:     NewFeedService(repo, logger),
		messages: NewMessageService(repo, logger),
	}
}

func register(t *testing.T, s *services, in RegisterInput) *model.Account {
	t.Helper()
	if in.Password == "" {
		in.Password = "password123"
	}
	if in.Email == "" {
		in.Email = in.Name + "@x.com"
	}
	if in.Kind == "" {
		in.Kind = "person"
	}
	a, err := s.accounts.Register(context.Background(), in)
	require.NoError(t, err, "registering %s", in.Name)
	return a
}

// sessionFor mimics what Login produces for an account.
func sessionFor(a *model.Account) *session.Session {
	return &session.Session{ID: "s-" + a.ID, AccountID: a.ID, Kind: a.Kind, Coordinate: a.Coordinate}
}

func TestRegister(t *testing.T) {
	s := newServices(t)

	a, err := s.accounts.Register(context.Background(), RegisterInput{
		Name:      "  joe ",
		Email:     "joe@x.com",
		Password:  "password123",
		Kind:      "Person",
		Latitude:  "40.7589",
		Longitude: "-73.9851",
		Bio:       "coffee first",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "joe", a.Name)
	assert.Equal(t, model.KindPerson, a.Kind)
	assert.Equal(t, model.DefaultRating, a.Rating)
	require.NotNil(t, a.Coordinate)
	assert.Equal(t, 40.7589, a.Coordinate.Latitude)

	// The password is stored hashed, and the hash verifies.
	assert.NotEqual(t, "password123", a.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte("password123")))
}

func TestRegisterBusinessKeepsBusinessFields(t *testing.T) {
	s := newServices(t)

	a := register(t, s, RegisterInput{Name: "joes_coffee", Kind: "business", BusinessName: "Joe's Coffee", BusinessCategory: "Restaurant"})
	assert.Equal(t, "Joe's Coffee", a.BusinessName)
	assert.Equal(t, "Restaurant", a.BusinessCategory)

	// A person's business fields are dropped rather than rejected.
	p := register(t, s, RegisterInput{Name: "ann", BusinessName: "ignored"})
	assert.Empty(t, p.BusinessName)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"missing name", RegisterInput{Email: "a@x.com", Password: "password123", Kind: "person"}, "name"},
		{"bad email", RegisterInput{Name: "a", Email: "not-an-email", Password: "password123", Kind: "person"}, "email"},
		{"bad kind", RegisterInput{Name: "a", Email: "a@x.com", Password: "password123", Kind: "robot"}, "kind"},
		{"short password", RegisterInput{Name: "a", Email: "a@x.com", Password: "abc", Kind: "person"}, "password"},
		{"half coordinate", RegisterInput{Name: "a", Email: "a@x.com", Password: "password123", Kind: "person", Latitude: "40.7"}, "coordinate"},
		{"latitude out of range", RegisterInput{Name: "a", Email: "a@x.com", Password: "password123", Kind: "person", Latitude: "91", Longitude: "0"}, "latitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServices(t)
			_, err := s.accounts.Register(context.Background(), tt.in)
			require.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestRegisterDuplicateEmailIsConflict(t *testing.T) {
	s := newServices(t)
	register(t, s, RegisterInput{Name: "joe", Email: "joe@x.com"})

	_, err := s.accounts.Register(context.Background(), RegisterInput{
		Name: "joseph", Email: "joe@x.com", Password: "password123", Kind: "person",
	})
	require.True(t, errors.Is(err, apperror.ErrConflict), "error = %v", err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "email", appErr.Field)

	// Only the first account exists.
	people, err := s.repo.ListAccounts(context.Background(), repository.AccountFilter{Kind: model.KindPerson})
	require.NoError(t, err)
	assert.Len(t, people, 1)
}

func TestRegisterDuplicateEmailIgnoresCase(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
	}{
		{"ascii", "joe@x.com", "Joe@X.com"},
		{"non-ascii", "ZOË@x.com", "zoë@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServices(t)
			register(t, s, RegisterInput{Name: "first", Email: tt.first})

			_, err := s.accounts.Register(context.Background(), RegisterInput{
				Name: "second", Email: tt.second, Password: "password123", Kind: "person",
			})
			require.True(t, errors.Is(err, apperror.ErrConflict), "error = %v", err)
			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "email", appErr.Field)
		})
	}
}

func TestRegisterDuplicateNameIsConflict(t *testing.T) {
	s := newServices(t)
	register(t, s, RegisterInput{Name: "joe"})

	_, err := s.accounts.Register(context.Background(), RegisterInput{
		Name: "joe", Email: "other@x.com", Password: "password123", Kind: "business",
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "error = %v", err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, "name", appErr.Field)
}

// Concurrent registrations all pass the advisory pre-check; the backend
// must still let exactly one through.
func TestRegisterRaceYieldsOneAccount(t *testing.T) {
	s := newServices(t)
	const n = 6

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.accounts.Register(context.Background(), RegisterInput{
				Name: fmt.Sprintf("racer%d", i), Email: "race@x.com", Password: "password123", Kind: "person",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestProfile(t *testing.T) {
	s := newServices(t)
	joe := register(t, s, RegisterInput{Name: "joe"})

	got, err := s.accounts.Profile(context.Background(), joe.ID)
	require.NoError(t, err)
	assert.Equal(t, "joe", got.Name)

	_, err = s.accounts.Profile(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v", err)

	_, err = s.accounts.Profile(context.Background(), " ")
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)
}

// joe and ann are about 1.17 km apart in Midtown; bob is in Brooklyn.
func TestNearbyPeopleScenario(t *testing.T) {
	s := newServices(t)
	joe := register(t, s, RegisterInput{Name: "joe", Latitude: "40.7589", Longitude: "-73.9851"})
	register(t, s, RegisterInput{Name: "ann", Latitude: "40.7505", Longitude: "-73.9934"})
	register(t, s, RegisterInput{Name: "bob", Latitude: "40.6782", Longitude: "-73.9442"})
	register(t, s, RegisterInput{Name: "ghost"}) // no coordinate
	register(t, s, RegisterInput{Name: "shop", Kind: "business", Latitude: "40.7590", Longitude: "-73.9850"})

	near, err := s.accounts.NearbyPeople(context.Background(), sessionFor(joe), 1.5)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "ann", near[0].Item.Name)
	assert.InDelta(t, 1.17, near[0].DistanceKm, 0.01)

	all, err := s.accounts.NearbyPeople(context.Background(), sessionFor(joe), geo.NoLimit)
	require.NoError(t, err)
	require.Len(t, all, 2, "self, ghost and the business are excluded")
	assert.Equal(t, "ann", all[0].Item.Name)
	assert.Equal(t, "bob", all[1].Item.Name)
}

func TestNearbyBusinessesExcludesSelfAndUsesDefaultCenter(t *testing.T) {
	s := newServices(t)
	shop := register(t, s, RegisterInput{Name: "shop", Kind: "business", Latitude: "40.7614", Longitude: "-73.9776"})
	register(t, s, RegisterInput{Name: "bakery", Kind: "business", Latitude: "40.7580", Longitude: "-73.9855"})
	nomad := register(t, s, RegisterInput{Name: "nomad"}) // no coordinate: anchored at Times Square

	fromShop, err := s.accounts.NearbyBusinesses(context.Background(), sessionFor(shop), geo.NoLimit)
	require.NoError(t, err)
	require.Len(t, fromShop, 1)
	assert.Equal(t, "bakery", fromShop[0].Item.Name)

	fromNomad, err := s.accounts.NearbyBusinesses(context.Background(), sessionFor(nomad), 0.5)
	require.NoError(t, err)
	require.Len(t, fromNomad, 1)
	assert.Equal(t, "bakery", fromNomad[0].Item.Name)
	assert.InDelta(t, geo.Distance(geo.DefaultCenter, model.Coordinate{Latitude: 40.7580, Longitude: -73.9855}), fromNomad[0].DistanceKm, 1e-9)
}

func TestZeroRadiusMeansNoLimit(t *testing.T) {
	s := newServices(t)
	joe := register(t, s, RegisterInput{Name: "joe", Latitude: "40.7589", Longitude: "-73.9851"})
	ann := register(t, s, RegisterInput{Name: "ann", Latitude: "40.7505", Longitude: "-73.9934"})
	bob := register(t, s, RegisterInput{Name: "bob", Latitude: "40.6782", Longitude: "-73.9442"})
	for _, a := range []*model.Account{joe, ann, bob} {
		_, err := s.feed.Publish(context.Background(), sessionFor(a), "hi from "+a.Name)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		radius float64
	}{
		{"zero", 0},
		{"no limit", geo.NoLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			people, err := s.accounts.NearbyPeople(context.Background(), sessionFor(joe), tt.radius)
			require.NoError(t, err)
			assert.Len(t, people, 2)

			feed, err := s.feed.Recent(context.Background(), sessionFor(joe), FeedQuery{RadiusKm: tt.radius})
			require.NoError(t, err)
			assert.Len(t, feed, 3)
		})
	}
}

func TestNearbyRequiresSessionAndValidRadius(t *testing.T) {
	s := newServices(t)

	_, err := s.accounts.NearbyPeople(context.Background(), nil, 1)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "error = %v", err)

	joe := register(t, s, RegisterInput{Name: "joe"})
	_, err = s.accounts.NearbyPeople(context.Background(), sessionFor(joe), -1)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)
}
