package service

import (
	"context"
	"log/slog"
	"math"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/session"
)

// FeedQuery selects a page of the forum feed.
type FeedQuery struct {
	Limit    int     // <= 0 means repository.DefaultFeedLimit
	RadiusKm float64 // geo.NoLimit or 0 disables distance filtering
}

// FeedEntry is a feed post with its distance from the reader, when known.
type FeedEntry struct {
	model.FeedPost
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// FeedService publishes and reads location-tagged posts.
type FeedService struct {
	repo   repository.PostRepository
	logger *slog.Logger
}

func NewFeedService(repo repository.PostRepository, logger *slog.Logger) *FeedService {
	return &FeedService{repo: repo, logger: logger}
}

// Publish stores a post by the session's account. The post is tagged with the
// coordinate the session holds right now; it is not updated later.
func (s *FeedService) Publish(ctx context.Context, sess *session.Session, content string) (*model.Post, error) {
	if sess == nil {
		return nil, apperror.Unauthorized("authentication required")
	}

	post := &model.Post{
		AuthorID:   sess.AccountID,
		Content:    content,
		Coordinate: cloneCoordinate(sess.Location()),
	}
	if err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, err
	}

	s.logger.Info("post published",
		slog.String("id", post.ID),
		slog.String("author_id", post.AuthorID),
	)
	return post, nil
}

// Recent returns the newest posts.
//
// With a finite positive RadiusKm and a session that has a coordinate, the
// page is narrowed to posts tagged within that distance; untagged posts drop
// out. The limit applies before the distance filter, so a narrowed page can be
// shorter than Limit.
func (s *FeedService) Recent(ctx context.Context, sess *session.Session, q FeedQuery) ([]FeedEntry, error) {
	if sess == nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	if math.IsNaN(q.RadiusKm) || q.RadiusKm < 0 {
		return nil, apperror.ValidationFailed("radius", "radius must be a non-negative number of kilometres")
	}

	posts, err := s.repo.ListRecentPosts(ctx, q.Limit)
	if err != nil {
		return nil, err
	}

	origin := sess.Location()
	radius := geo.OrNoLimit(q.RadiusKm)
	filter := origin != nil && !math.IsInf(radius, 1)

	entries := make([]FeedEntry, 0, len(posts))
	for _, p := range posts {
		entry := FeedEntry{FeedPost: p}
		if origin != nil && p.Coordinate != nil {
			d := geo.Distance(*origin, *p.Coordinate)
			entry.DistanceKm = &d
		}
		if filter && (entry.DistanceKm == nil || *entry.DistanceKm > radius) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func cloneCoordinate(c *model.Coordinate) *model.Coordinate {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
