package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// InsertOutboxTx co-commits the broadcast record with its message and
// returns the assigned outbox id.
func (s *Store) InsertOutboxTx(ctx context.Context, tx *sql.Tx, messageID, channelID uuid.UUID, payload []byte) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO message_outbox (message_id, channel_id, payload, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		messageID.String(), channelID.String(), string(payload), nowMilli())
	if err != nil {
		return 0, fmt.Errorf("insert outbox: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("outbox id: %w", err)
	}
	return id, nil
}

// CompleteOutbox marks the row completed. Idempotent: a replayed completion
// keeps the first timestamp.
func (s *Store) CompleteOutbox(ctx context.Context, outboxID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_outbox SET status = 'completed', completed_at = ? WHERE id = ? AND status != 'completed'`,
		nowMilli(), outboxID)
	if err != nil {
		return fmt.Errorf("complete outbox: %w", err)
	}
	return nil
}

// FailOutbox parks a row that exhausted its retries; the scanner skips
// failed rows until an operator intervenes.
func (s *Store) FailOutbox(ctx context.Context, outboxID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_outbox SET status = 'failed' WHERE id = ? AND status = 'pending'`, outboxID)
	if err != nil {
		return fmt.Errorf("fail outbox: %w", err)
	}
	return nil
}

func (s *Store) GetOutbox(ctx context.Context, outboxID int64) (*model.MessageOutbox, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, channel_id, payload, status, created_at, completed_at
		FROM message_outbox WHERE id = ?`, outboxID)
	return scanOutbox(row)
}

// PendingOutbox returns rows still pending that were created before the
// cutoff, oldest first. The grace period keeps the scanner from racing the
// happy-path worker.
func (s *Store) PendingOutbox(ctx context.Context, createdBefore int64, limit int) ([]*model.MessageOutbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, channel_id, payload, status, created_at, completed_at
		FROM message_outbox
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	var out []*model.MessageOutbox
	for rows.Next() {
		ob, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func scanOutbox(row rowScanner) (*model.MessageOutbox, error) {
	var ob model.MessageOutbox
	var rawMsg, rawChannel, payload string
	var completedAt sql.NullInt64

	err := row.Scan(&ob.ID, &rawMsg, &rawChannel, &payload, &ob.Status, &ob.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	if ob.MessageID, err = uuid.Parse(rawMsg); err != nil {
		return nil, err
	}
	if ob.ChannelID, err = uuid.Parse(rawChannel); err != nil {
		return nil, err
	}
	ob.Payload = []byte(payload)
	if completedAt.Valid {
		ob.CompletedAt = &completedAt.Int64
	}
	return &ob, nil
}
