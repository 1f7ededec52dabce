package seed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/repository/memory"
)

func newSeeder(repo repository.Repository) *Seeder {
	return New(repo, auth.NewPasswordServiceForTest(bcrypt.MinCost), slog.New(slog.NewTextHandler(io.Discard, nil)), 42)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	report, err := newSeeder(repo).Run(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Created, len(people)+len(businesses))
	assert.Empty(t, report.Skipped)
	assert.Equal(t, len(posts), report.Posts)

	ppl, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindPerson})
	require.NoError(t, err)
	require.Len(t, ppl, len(people))
	for _, p := range ppl {
		require.NotNil(t, p.Coordinate)
		assert.GreaterOrEqual(t, p.Rating, 4.0)
		assert.LessOrEqual(t, p.Rating, 5.0)
	}

	shops, err := repo.ListAccounts(ctx, repository.AccountFilter{Kind: model.KindBusiness})
	require.NoError(t, err)
	require.Len(t, shops, len(businesses))
	for _, b := range shops {
		assert.GreaterOrEqual(t, b.Rating, 3.5)
		assert.NotEmpty(t, b.BusinessName)
	}

	feed, err := repo.ListRecentPosts(ctx, repository.MaxFeedLimit)
	require.NoError(t, err)
	assert.Len(t, feed, len(posts))
}

func TestRunJitterStaysNearLocation(t *testing.T) {
	s := newSeeder(memory.New())
	for i, p := range s.plan() {
		var base model.Coordinate
		if i < len(people) {
			base = locations[i%len(locations)].Coordinate
		} else {
			base = locations[(i-len(people))%len(locations)].Coordinate
		}
		// 0.001 degrees is at most ~160 m diagonally at this latitude.
		assert.Less(t, geo.Distance(base, *p.account.Coordinate), 0.2, p.account.Name)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	_, err := newSeeder(repo).Run(ctx)
	require.NoError(t, err)

	again, err := newSeeder(repo).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Len(t, again.Skipped, len(people)+len(businesses))
	assert.Zero(t, again.Posts)

	feed, err := repo.ListRecentPosts(ctx, repository.MaxFeedLimit)
	require.NoError(t, err)
	assert.Len(t, feed, len(posts))
}

func TestReportFollowsPlanOrder(t *testing.T) {
	var wantNames, wantEmails []string
	for _, d := range append(append([]demoAccount{}, people...), businesses...) {
		wantNames = append(wantNames, d.Name)
		wantEmails = append(wantEmails, d.Email)
	}

	// Workers finish in varying order; the report must not.
	for range 5 {
		ctx := context.Background()
		repo := memory.New()

		report, err := newSeeder(repo).Run(ctx)
		require.NoError(t, err)
		var names []string
		for _, a := range report.Created {
			names = append(names, a.Name)
		}
		require.Equal(t, wantNames, names)

		again, err := newSeeder(repo).Run(ctx)
		require.NoError(t, err)
		require.Equal(t, wantEmails, again.Skipped)
	}
}

func TestSeededPasswordsVerify(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)

	_, err := New(repo, passwords, slog.New(slog.NewTextHandler(io.Discard, nil)), 1).Run(ctx)
	require.NoError(t, err)

	john, err := repo.FindAccountByEmail(ctx, "john@example.com")
	require.NoError(t, err)
	require.NotNil(t, john)
	assert.NoError(t, passwords.Verify(john.PasswordHash, PersonPassword))

	joes, err := repo.FindAccountByEmail(ctx, "info@joescoffee.com")
	require.NoError(t, err)
	require.NotNil(t, joes)
	assert.NoError(t, passwords.Verify(joes.PasswordHash, BusinessPassword))
}
