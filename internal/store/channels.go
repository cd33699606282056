package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

func (s *Store) CreateChannel(ctx context.Context, ch *model.Channel) error {
	if ch.CreatedAt == 0 {
		ch.CreatedAt = nowMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, workspace_id, type, name, max_seq_id, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		ch.ID.String(), ch.WorkspaceID.String(), ch.Type, ch.Name, ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}

func (s *Store) GetChannel(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, type, name, max_seq_id, created_at
		FROM channels WHERE id = ? AND deleted_at IS NULL`, id.String())

	var ch model.Channel
	var rawID, rawWS string
	err := row.Scan(&rawID, &rawWS, &ch.Type, &ch.Name, &ch.MaxSeqID, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	if ch.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	if ch.WorkspaceID, err = uuid.Parse(rawWS); err != nil {
		return nil, err
	}
	return &ch, nil
}

// AddChannelMember is idempotent: re-joining clears left_at.
func (s *Store) AddChannelMember(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, joined_at, left_at)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT (channel_id, user_id) DO UPDATE SET left_at = NULL`,
		channelID.String(), userID.String(), nowMilli())
	if err != nil {
		return fmt.Errorf("add channel member: %w", err)
	}
	return nil
}

// RemoveChannelMember soft-deletes the membership; idempotent.
func (s *Store) RemoveChannelMember(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_members SET left_at = ? WHERE channel_id = ? AND user_id = ? AND left_at IS NULL`,
		nowMilli(), channelID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("remove channel member: %w", err)
	}
	return nil
}

func (s *Store) IsActiveMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ? AND left_at IS NULL`,
		channelID.String(), userID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// ActiveMemberIDs lists the user ids with a live membership in the channel.
func (s *Store) ActiveMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM channel_members WHERE channel_id = ? AND left_at IS NULL`,
		channelID.String())
	if err != nil {
		return nil, fmt.Errorf("query channel members: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ChannelsOf lists ids of live channels the user actively belongs to.
func (s *Store) ChannelsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cm.channel_id
		FROM channel_members cm
		JOIN channels c ON c.id = cm.channel_id
		WHERE cm.user_id = ? AND cm.left_at IS NULL AND c.deleted_at IS NULL`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("query channels of user: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
