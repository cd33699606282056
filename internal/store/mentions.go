package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// MentionsOf lists the mention markers persisted with a message.
func (s *Store) MentionsOf(ctx context.Context, messageID uuid.UUID) ([]model.Mention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, type, mentioned_user_id FROM message_mentions WHERE message_id = ? ORDER BY rowid`,
		messageID.String())
	if err != nil {
		return nil, fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	var out []model.Mention
	for rows.Next() {
		var m model.Mention
		var rawMsg string
		var rawUser sql.NullString
		if err := rows.Scan(&rawMsg, &m.Type, &rawUser); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		if m.MessageID, err = uuid.Parse(rawMsg); err != nil {
			return nil, err
		}
		if m.MentionedUserID, err = scanUUID(rawUser); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
