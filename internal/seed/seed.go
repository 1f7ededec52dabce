// Package seed loads a small set of New York demo accounts and forum posts.
//
// People log in with "password123" and businesses with "business123".
// Seeding is idempotent: accounts whose email already exists are left alone,
// and posts are only written for authors created by the same run.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// Demo passwords.
const (
	PersonPassword   = "password123"
	BusinessPassword = "business123"
)

// hashWorkers bounds concurrent bcrypt hashing.
const hashWorkers = 4

type location struct {
	Area       string
	Coordinate model.Coordinate
}

var locations = []location{
	{"Times Square", model.Coordinate{Latitude: 40.7589, Longitude: -73.9851}},
	{"Hell's Kitchen", model.Coordinate{Latitude: 40.7505, Longitude: -73.9934}},
	{"Central Park South", model.Coordinate{Latitude: 40.7614, Longitude: -73.9776}},
	{"Upper West Side", model.Coordinate{Latitude: 40.7831, Longitude: -73.9712}},
	{"Greenwich Village", model.Coordinate{Latitude: 40.7282, Longitude: -73.9942}},
	{"Tribeca", model.Coordinate{Latitude: 40.7180, Longitude: -74.0134}},
	{"Financial District", model.Coordinate{Latitude: 40.7061, Longitude: -74.0087}},
	{"Midtown West", model.Coordinate{Latitude: 40.7505, Longitude: -73.9934}},
	{"Theater District", model.Coordinate{Latitude: 40.7549, Longitude: -73.9840}},
	{"Chelsea", model.Coordinate{Latitude: 40.7411, Longitude: -73.9897}},
}

type demoAccount struct {
	Name, Email, Bio       string
	BusinessName, Category string
	Kind                   model.Kind
}

var people = []demoAccount{
	{Name: "john_nyc", Email: "john@example.com", Bio: "Love exploring NYC neighborhoods!"},
	{Name: "sarah_manhattan", Email: "sarah@example.com", Bio: "Coffee enthusiast and local foodie"},
	{Name: "mike_downtown", Email: "mike@example.com", Bio: "Photographer capturing city life"},
	{Name: "emma_uptown", Email: "emma@example.com", Bio: "Yoga instructor and wellness coach"},
	{Name: "alex_midtown", Email: "alex@example.com", Bio: "Tech worker, always looking for good lunch spots"},
	{Name: "lisa_village", Email: "lisa@example.com", Bio: "Artist and gallery owner"},
	{Name: "david_tribeca", Email: "david@example.com", Bio: "Finance professional, weekend explorer"},
}

var businesses = []demoAccount{
	{Name: "joes_coffee", Email: "info@joescoffee.com", BusinessName: "Joe's Coffee Shop", Category: "Restaurant", Bio: "Best coffee in the neighborhood since 1995"},
	{Name: "central_gym", Email: "info@centralgym.com", BusinessName: "Central Park Fitness", Category: "Fitness", Bio: "Premium fitness center with park views"},
	{Name: "marios_pizza", Email: "mario@mariospizza.com", BusinessName: "Mario's Authentic Pizza", Category: "Restaurant", Bio: "Authentic Italian pizza made fresh daily"},
	{Name: "book_corner", Email: "hello@bookcorner.com", BusinessName: "The Book Corner", Category: "Retail", Bio: "Independent bookstore with rare finds"},
	{Name: "fresh_market", Email: "contact@freshmarket.com", BusinessName: "Fresh Market NYC", Category: "Grocery", Bio: "Organic produce and local goods"},
}

// posts are written in this order by the person at the given index.
var posts = []struct {
	Author  int
	Content string
}{
	{0, "Anyone know what's happening at Washington Square Park today? Lots of music!"},
	{1, "New coffee shop opened on 8th Ave! Great espresso and friendly staff ☕"},
	{2, "Looking for a good photographer for headshots. Any recommendations?"},
	{3, "Yoga class in Central Park tomorrow morning at 8 AM. All levels welcome! 🧘‍♀️"},
	{4, "Best lunch spots near Times Square? Tired of tourist traps!"},
	{5, "Art gallery opening this Friday in SoHo. Contemporary local artists featured."},
	{6, "Anyone interested in a weekend food tour of Chinatown?"},
}

// Report summarises a seeding run.
type Report struct {
	Created []model.Account
	Skipped []string // emails that already existed
	Posts   int
}

// Seeder writes the demo data set into a repository.
type Seeder struct {
	repo      repository.Repository
	passwords *auth.PasswordService
	logger    *slog.Logger
	rnd       *rand.Rand
}

// New creates a Seeder. seed makes coordinate jitter and ratings
// reproducible.
func New(repo repository.Repository, passwords *auth.PasswordService, logger *slog.Logger, seed uint64) *Seeder {
	return &Seeder{
		repo:      repo,
		passwords: passwords,
		logger:    logger,
		rnd:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// plannedAccount is a demo account with its random attributes already drawn,
// so the concurrent part of Run does not touch the shared generator.
type plannedAccount struct {
	account  *model.Account
	password string
	area     string
}

// Run creates the demo accounts, then the posts of newly created people.
// Report lists accounts in plan order: people first, then businesses.
func (s *Seeder) Run(ctx context.Context) (*Report, error) {
	plan := s.plan()

	// Workers finish in any order; each writes only its own slot so the report
	// can follow plan order afterwards.
	created := make([]bool, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)

	for i, p := range plan {
		g.Go(func() error {
			ok, err := s.create(gctx, p)
			if err != nil {
				return err
			}
			created[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var report Report
	for i, p := range plan {
		if created[i] {
			report.Created = append(report.Created, *p.account)
		} else {
			report.Skipped = append(report.Skipped, p.account.Email)
		}
	}

	for _, post := range posts {
		author := plan[post.Author].account
		if author.ID == "" {
			continue // existed before this run
		}
		p := &model.Post{AuthorID: author.ID, Content: post.Content, Coordinate: author.Coordinate}
		if err := s.repo.CreatePost(ctx, p); err != nil {
			return nil, fmt.Errorf("seeding post by %s: %w", author.Name, err)
		}
		report.Posts++
	}

	s.logger.Info("seed complete",
		slog.Int("created", len(report.Created)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("posts", report.Posts),
	)
	return &report, nil
}

func (s *Seeder) plan() []plannedAccount {
	plan := make([]plannedAccount, 0, len(people)+len(businesses))
	for i, d := range people {
		loc := locations[i%len(locations)]
		plan = append(plan, plannedAccount{
			account: &model.Account{
				Kind:       model.KindPerson,
				Name:       d.Name,
				Email:      d.Email,
				Bio:        d.Bio,
				Coordinate: s.jitter(loc.Coordinate, 0.001),
				Rating:     s.rating(4.0, 5.0),
			},
			password: PersonPassword,
			area:     loc.Area,
		})
	}
	for i, d := range businesses {
		loc := locations[i%len(locations)]
		plan = append(plan, plannedAccount{
			account: &model.Account{
				Kind:             model.KindBusiness,
				Name:             d.Name,
				Email:            d.Email,
				Bio:              d.Bio,
				BusinessName:     d.BusinessName,
				BusinessCategory: d.Category,
				Coordinate:       s.jitter(loc.Coordinate, 0.0005),
				Rating:           s.rating(3.5, 5.0),
			},
			password: BusinessPassword,
			area:     loc.Area,
		})
	}
	return plan
}

// create stores p unless its email is taken. It reports whether it wrote.
func (s *Seeder) create(ctx context.Context, p plannedAccount) (bool, error) {
	existing, err := s.repo.FindAccountByEmail(ctx, p.account.Email)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", p.account.Email, err)
	}
	if existing != nil {
		return false, nil
	}

	hash, err := s.passwords.Hash(p.password)
	if err != nil {
		return false, err
	}
	p.account.PasswordHash = hash

	if err := s.repo.CreateAccount(ctx, p.account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			// The name is taken by an account with another email.
			p.account.ID = ""
			return false, nil
		}
		return false, fmt.Errorf("seeding %s: %w", p.account.Name, err)
	}

	s.logger.Debug("seeded account",
		slog.String("name", p.account.Name),
		slog.String("kind", string(p.account.Kind)),
		slog.String("area", p.area),
	)
	return true, nil
}

// jitter moves c by up to ±spread degrees on each axis.
func (s *Seeder) jitter(c model.Coordinate, spread float64) *model.Coordinate {
	return &model.Coordinate{
		Latitude:  c.Latitude + (s.rnd.Float64()*2-1)*spread,
		Longitude: c.Longitude + (s.rnd.Float64()*2-1)*spread,
	}
}

// rating draws from [lo, hi] and rounds to one decimal place.
func (s *Seeder) rating(lo, hi float64) float64 {
	return math.Round((lo+s.rnd.Float64()*(hi-lo))*10) / 10
}
