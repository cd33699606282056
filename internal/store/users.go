package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, type, name, webhook_url, active) VALUES (?, ?, ?, ?, ?)`,
		u.ID.String(), u.Type, u.Name, u.WebhookURL, u.Active)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, name, webhook_url, active FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var id string
	err := row.Scan(&id, &u.Type, &u.Name, &u.WebhookURL, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ActiveBotsInChannel returns active bot members of a channel that carry a
// webhook target. The sender is filtered by the caller.
func (s *Store) ActiveBotsInChannel(ctx context.Context, channelID uuid.UUID) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.type, u.name, u.webhook_url, u.active
		FROM users u
		JOIN channel_members cm ON cm.user_id = u.id
		WHERE cm.channel_id = ?
		  AND cm.left_at IS NULL
		  AND u.type = ?
		  AND u.active = 1
		  AND u.webhook_url != ''`,
		channelID.String(), model.UserBot)
	if err != nil {
		return nil, fmt.Errorf("query channel bots: %w", err)
	}
	defer rows.Close()

	var bots []*model.User
	for rows.Next() {
		var u model.User
		var id string
		if err := rows.Scan(&id, &u.Type, &u.Name, &u.WebhookURL, &u.Active); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		bots = append(bots, &u)
	}
	return bots, rows.Err()
}
