package sqlite

import (
	"context"
	"database/sql"

	"github.com/rs/xid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// CreatePost inserts a post. The author must exist: the FOREIGN KEY on
// author_id rejects the insert otherwise and we report NotFound.
func (db *DB) CreatePost(ctx context.Context, post *model.Post) error {
	if err := post.Validate(); err != nil {
		return err
	}

	id := xid.New().String()
	createdAt := db.now()
	lat, lng := coordinateToNull(post.Coordinate)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, content, latitude, longitude, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		post.AuthorID,
		post.Content,
		lat,
		lng,
		createdAt,
	)
	if err != nil {
		if constraintKind(err) == "foreign_key" {
			return apperror.NotFound("account", post.AuthorID)
		}
		return wrap("creating post", err)
	}

	post.ID = id
	post.CreatedAt = createdAt
	return nil
}

// ListRecentPosts returns the newest posts joined with their author.
//
// The JOIN means one query per page instead of one per post; the author
// summary is read from the same row.
func (db *DB) ListRecentPosts(ctx context.Context, limit int) ([]model.FeedPost, error) {
	limit = repository.ClampFeedLimit(limit)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT p.id, p.author_id, p.content, p.latitude, p.longitude, p.created_at,
		        a.name, a.kind, a.business_name
		 FROM posts p
		 JOIN accounts a ON a.id = p.author_id
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, wrap("listing posts", err)
	}
	defer rows.Close()

	feed := make([]model.FeedPost, 0, limit)
	for rows.Next() {
		var (
			fp       model.FeedPost
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(
			&fp.ID, &fp.AuthorID, &fp.Content, &lat, &lng, &fp.CreatedAt,
			&fp.Author.Name, &fp.Author.Kind, &fp.Author.BusinessName,
		); err != nil {
			return nil, wrap("scanning post row", err)
		}
		fp.Coordinate = coordinateFromNull(lat, lng)
		fp.Author.ID = fp.AuthorID
		feed = append(feed, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterating posts", err)
	}

	return feed, nil
}
