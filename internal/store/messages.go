package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// InsertMessageTx writes the message row inside the router's transaction.
// A unique-index rejection on (channel_id, client_msg_id) surfaces as
// ErrDuplicate so the router can resolve the original identifiers.
func (s *Store) InsertMessageTx(ctx context.Context, tx *sql.Tx, m *model.Message) error {
	var clientMsgID any
	if m.ClientMsgID != "" {
		clientMsgID = m.ClientMsgID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages
			(id, channel_id, sender_id, seq_id, client_msg_id, parent_id, root_id,
			 type, content, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		m.ID.String(), m.ChannelID.String(), m.SenderID.String(), m.SeqID,
		clientMsgID, nullUUID(m.ParentID), nullUUID(m.RootID),
		m.Type, m.Content, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, a := range m.Attachments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_attachments (id, message_id, url, file_name, mime_type, size)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID.String(), m.ID.String(), a.URL, a.FileName, a.MimeType, a.Size); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

// InsertMentionsTx persists parsed mention markers with the message.
func (s *Store) InsertMentionsTx(ctx context.Context, tx *sql.Tx, mentions []model.Mention) error {
	for _, m := range mentions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_mentions (message_id, type, mentioned_user_id) VALUES (?, ?, ?)`,
			m.MessageID.String(), m.Type, nullUUID(m.MentionedUserID)); err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	return nil
}

// GetMessageTx resolves a message inside an open transaction; used for
// parent lookups during root derivation.
func (s *Store) GetMessageTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Message, error) {
	row := tx.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id.String())
	return scanMessage(row)
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id.String())
	return scanMessage(row)
}

// GetMessageByClientID resolves the idempotency authority: the committed row
// for a given (channel, clientMsgId).
func (s *Store) GetMessageByClientID(ctx context.Context, channelID uuid.UUID, clientMsgID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		messageSelect+` WHERE channel_id = ? AND client_msg_id = ?`,
		channelID.String(), clientMsgID)
	return scanMessage(row)
}

// MessagesSince returns committed messages with seq_id > sinceSeq in
// ascending seq order, capped at limit.
func (s *Store) MessagesSince(ctx context.Context, channelID uuid.UUID, sinceSeq uint64, limit int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE channel_id = ? AND seq_id > ? ORDER BY seq_id ASC LIMIT ?`,
		channelID.String(), sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages since: %w", err)
	}
	return collectMessages(rows)
}

// LastMessages returns the most recent limit messages in ascending seq order.
func (s *Store) LastMessages(ctx context.Context, channelID uuid.UUID, limit int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (`+messageSelect+` WHERE channel_id = ? ORDER BY seq_id DESC LIMIT ?)
		ORDER BY seq_id ASC`,
		channelID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query last messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *Store) MaxSeqID(ctx context.Context, channelID uuid.UUID) (uint64, error) {
	var maxSeq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT max_seq_id FROM channels WHERE id = ?`, channelID.String()).Scan(&maxSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return maxSeq, nil
}

const messageSelect = `
	SELECT id, channel_id, sender_id, seq_id, client_msg_id, parent_id, root_id,
	       type, content, created_at, updated_at, is_deleted
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	var rawID, rawChannel, rawSender string
	var clientMsgID, rawParent, rawRoot sql.NullString

	err := row.Scan(&rawID, &rawChannel, &rawSender, &m.SeqID, &clientMsgID,
		&rawParent, &rawRoot, &m.Type, &m.Content, &m.CreatedAt, &m.UpdatedAt, &m.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if m.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	if m.ChannelID, err = uuid.Parse(rawChannel); err != nil {
		return nil, err
	}
	if m.SenderID, err = uuid.Parse(rawSender); err != nil {
		return nil, err
	}
	m.ClientMsgID = clientMsgID.String
	if m.ParentID, err = scanUUID(rawParent); err != nil {
		return nil, err
	}
	if m.RootID, err = scanUUID(rawRoot); err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]*model.Message, error) {
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
