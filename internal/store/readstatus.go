package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// BumpUnread increments the member's unread counter for a newly observed
// seq, guarded so that outbox replays cannot double-count: the increment
// applies only when seq exceeds both last_read_seq_id and
// last_observed_seq_id, and the observation mark is persisted with it.
// Reports whether the increment was applied.
func (s *Store) BumpUnread(ctx context.Context, userID, channelID uuid.UUID, seqID uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_channel_read_status
			(user_id, channel_id, last_observed_seq_id, unread_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET
			unread_count = unread_count + 1,
			last_observed_seq_id = excluded.last_observed_seq_id,
			updated_at = excluded.updated_at
		WHERE excluded.last_observed_seq_id > user_channel_read_status.last_observed_seq_id
		  AND excluded.last_observed_seq_id > user_channel_read_status.last_read_seq_id`,
		userID.String(), channelID.String(), seqID, nowMilli())
	if err != nil {
		return false, fmt.Errorf("bump unread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkRead advances the read pointer monotonically and recomputes the
// unread counter from the authoritative message table.
func (s *Store) MarkRead(ctx context.Context, userID, channelID, messageID uuid.UUID, seqID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_channel_read_status
			(user_id, channel_id, last_read_message_id, last_read_seq_id, unread_count, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET
			last_read_message_id = CASE
				WHEN excluded.last_read_seq_id >= user_channel_read_status.last_read_seq_id
				THEN excluded.last_read_message_id
				ELSE user_channel_read_status.last_read_message_id END,
			last_read_seq_id = max(user_channel_read_status.last_read_seq_id, excluded.last_read_seq_id),
			unread_count = (
				SELECT COUNT(*) FROM messages m
				WHERE m.channel_id = excluded.channel_id
				  AND m.seq_id > max(user_channel_read_status.last_read_seq_id, excluded.last_read_seq_id)
				  AND m.is_deleted = 0),
			updated_at = excluded.updated_at`,
		userID.String(), channelID.String(), messageID.String(), seqID, nowMilli())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Ack records the client's delivery cursor. Never decreases.
func (s *Store) Ack(ctx context.Context, userID, channelID uuid.UUID, seqID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_channel_read_status
			(user_id, channel_id, last_acked_seq_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET
			last_acked_seq_id = max(user_channel_read_status.last_acked_seq_id, excluded.last_acked_seq_id),
			updated_at = excluded.updated_at`,
		userID.String(), channelID.String(), seqID, nowMilli())
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

func (s *Store) GetReadStatus(ctx context.Context, userID, channelID uuid.UUID) (*model.UserChannelReadStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, channel_id, last_read_message_id, last_read_seq_id,
		       last_acked_seq_id, last_observed_seq_id, unread_count, updated_at
		FROM user_channel_read_status WHERE user_id = ? AND channel_id = ?`,
		userID.String(), channelID.String())

	var rs model.UserChannelReadStatus
	var rawUser, rawChannel string
	var rawMsg sql.NullString
	err := row.Scan(&rawUser, &rawChannel, &rawMsg, &rs.LastReadSeqID,
		&rs.LastAckedSeqID, &rs.LastObservedSeqID, &rs.UnreadCount, &rs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan read status: %w", err)
	}
	if rs.UserID, err = uuid.Parse(rawUser); err != nil {
		return nil, err
	}
	if rs.ChannelID, err = uuid.Parse(rawChannel); err != nil {
		return nil, err
	}
	if rs.LastReadMessageID, err = scanUUID(rawMsg); err != nil {
		return nil, err
	}
	return &rs, nil
}
