package sqlite

import (
	"context"

	"github.com/rs/xid"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
)

// CreateMessage stores a directed message between two existing accounts.
func (db *DB) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	id := xid.New().String()
	createdAt := db.now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		createdAt,
	)
	if err != nil {
		if constraintKind(err) == "foreign_key" {
			// SQLite does not say which reference failed; ask.
			missing, lookupErr := db.missingAccount(ctx, msg.SenderID, msg.ReceiverID)
			if lookupErr != nil {
				return lookupErr
			}
			if missing == "" {
				missing = msg.ReceiverID
			}
			return apperror.NotFound("account", missing)
		}
		return wrap("creating message", err)
	}

	msg.ID = id
	msg.CreatedAt = createdAt
	return nil
}

// ListConversation returns both directions of the a<->b exchange, oldest first.
func (db *DB) ListConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, content, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?)
		    OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at, id`,
		a, b, b, a,
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
		conv = append(conv, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterating messages", err)
	}

	return conv, nil
}
