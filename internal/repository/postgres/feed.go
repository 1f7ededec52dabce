package postgres

import (
	"context"

	"github.com/rs/xid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

func (db *DB) CreatePost(ctx context.Context, post *model.Post) error {
	if err := post.Validate(); err != nil {
		return err
	}

	id := xid.New().String()
	createdAt := db.now()
	lat, lng := coordinateArgs(post.Coordinate)

	_, err := db.pool.Exec(ctx,
		`INSERT INTO posts (id, author_id, content, latitude, longitude, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, post.AuthorID, post.Content, lat, lng, createdAt,
	)
	if err != nil {
		if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeForeignKeyViolation {
			return apperror.NotFound("account", post.AuthorID)
		}
		return wrap("creating post", err)
	}

	post.ID = id
	post.CreatedAt = createdAt
	return nil
}

func (db *DB) ListRecentPosts(ctx context.Context, limit int) ([]model.FeedPost, error) {
	limit = repository.ClampFeedLimit(limit)

	rows, err := db.pool.Query(ctx,
		`SELECT p.id, p.author_id, p.content, p.latitude, p.longitude, p.created_at,
		        a.name, a.kind, a.business_name
		 FROM posts p
		 JOIN accounts a ON a.id = p.author_id
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT $1`,
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
			kind     string
			lat, lng *float64
		)
		if err := rows.Scan(
			&fp.ID, &fp.AuthorID, &fp.Content, &lat, &lng, &fp.CreatedAt,
			&fp.Author.Name, &kind, &fp.Author.BusinessName,
		); err != nil {
			return nil, wrap("scanning post row", err)
		}
		fp.Coordinate = coordinateFrom(lat, lng)
		fp.CreatedAt = toUTC(fp.CreatedAt)
		fp.Author.ID = fp.AuthorID
		fp.Author.Kind = model.Kind(kind)
		feed = append(feed, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterating posts", err)
	}
	return feed, nil
}

func (db *DB) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	id := xid.New().String()
	createdAt := db.now()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, msg.SenderID, msg.ReceiverID, msg.Content, createdAt,
	)
	if err != nil {
		if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeForeignKeyViolation {
			if pgErr.ConstraintName == constraintMessageSender {
				return apperror.NotFound("account", msg.SenderID)
			}
			return apperror.NotFound("account", msg.ReceiverID)
		}
		return wrap("creating message", err)
	}

	msg.ID = id
	msg.CreatedAt = createdAt
	return nil
}

func (db *DB) ListConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, content, created_at
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2)
		    OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at, id`,
		a, b,
	)
	if err != nil {
		return nil, wrap("listing conversation", err)
	}
	defer rows.Close()

	conv := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt); err != nil {
			return nil, wrap("scanning message row", err)
		}
		m.CreatedAt = toUTC(m.CreatedAt)
		conv = append(conv, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterating messages", err)
	}
	return conv, nil
}
