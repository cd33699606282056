// Package sync serves seq-cursor catch-up: everything a client missed while
// offline, in order, plus its read-state snapshot.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/metrics"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/store"
)

var (
	ErrNotMember      = errors.New("sync: user is not an active member")
	ErrSyncInProgress = errors.New("sync: another sync for this channel is in flight")
	ErrUnknownMessage = errors.New("sync: message not found")
)

const (
	// DefaultLimit bounds one catch-up page when the client does not ask for
	// a size; MaxLimit caps whatever it asks for.
	DefaultLimit = 200
	MaxLimit     = 500

	lockTTL = 30 * time.Second
)

// ChannelSync is one catch-up page. Messages are ordered by seq ascending;
// HasMore tells the client to repeat the call with SinceSeq set to the last
// seq of the page.
type ChannelSync struct {
	ChannelID  uuid.UUID                `json:"channelId"`
	Messages   []*event.MessageEnvelope `json:"messages"`
	MaxSeqID   uint64                   `json:"maxSeqId,string"`
	HasMore    bool                     `json:"hasMore"`
	ReadStatus *ReadState               `json:"readStatus,omitempty"`
}

type ReadState struct {
	LastReadSeqID  uint64 `json:"lastReadSeqId,string"`
	LastAckedSeqID uint64 `json:"lastAckedSeqId,string"`
	UnreadCount    uint64 `json:"unreadCount"`
}

type Engine struct {
	store *store.Store
	kv    kv.Store
	bus   *broadcast.Broadcaster
	log   *slog.Logger
}

func NewEngine(st *store.Store, kvStore kv.Store, bus *broadcast.Broadcaster, log *slog.Logger) *Engine {
	return &Engine{store: st, kv: kvStore, bus: bus, log: log.With(slog.String("comp", "sync"))}
}

func lockKey(userID, channelID uuid.UUID) string {
	return "synclock:" + userID.String() + ":" + channelID.String()
}

// SyncChannel returns committed messages with seq > sinceSeq, or the newest
// limit messages when the client has no cursor at all. A short KV lock
// serializes concurrent syncs of the same (user, channel) so two devices
// reconnecting at once do not hammer the same range.
func (e *Engine) SyncChannel(ctx context.Context, userID, channelID uuid.UUID, sinceSeq *uint64, limit int) (*ChannelSync, error) {
	member, err := e.store.IsActiveMember(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}

	locked, err := e.kv.SetNX(ctx, lockKey(userID, channelID), "1", lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if _, err := e.kv.Del(ctx, lockKey(userID, channelID)); err != nil {
			e.log.Warn("release sync lock", slog.Any("error", err))
		}
	}()

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var (
		msgs    []*model.Message
		hasMore bool
	)
	if sinceSeq == nil {
		// No cursor: the tail of the channel. The page ends at the head, so
		// there is nothing newer to page towards.
		msgs, err = e.store.LastMessages(ctx, channelID, limit)
		if err != nil {
			return nil, err
		}
	} else {
		// One row past the page tells us whether more remain.
		msgs, err = e.store.MessagesSince(ctx, channelID, *sinceSeq, limit+1)
		if err != nil {
			return nil, err
		}
		hasMore = len(msgs) > limit
		if hasMore {
			msgs = msgs[:limit]
		}
	}

	maxSeq, err := e.store.MaxSeqID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	out := &ChannelSync{
		ChannelID: channelID,
		Messages:  make([]*event.MessageEnvelope, 0, len(msgs)),
		MaxSeqID:  maxSeq,
		HasMore:   hasMore,
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, envelopeOf(m))
	}

	rs, err := e.store.GetReadStatus(ctx, userID, channelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if rs != nil {
		out.ReadStatus = &ReadState{
			LastReadSeqID:  rs.LastReadSeqID,
			LastAckedSeqID: rs.LastAckedSeqID,
			UnreadCount:    rs.UnreadCount,
		}
	}
	metrics.SyncRequests.Inc()
	return out, nil
}

// Ack moves the client's delivery cursor forward. Regressions are ignored,
// so replayed or out-of-order acks are harmless.
func (e *Engine) Ack(ctx context.Context, userID, channelID uuid.UUID, seqID uint64) error {
	return e.store.Ack(ctx, userID, channelID, seqID)
}

// MarkRead advances the read pointer to the given message and announces the
// receipt to the channel. The pointer is monotonic: marking an older message
// read keeps the newer pointer and counter.
func (e *Engine) MarkRead(ctx context.Context, userID, channelID, messageID uuid.UUID) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownMessage
	}
	if err != nil {
		return err
	}
	if msg.ChannelID != channelID {
		return ErrUnknownMessage
	}
	if err := e.store.MarkRead(ctx, userID, channelID, messageID, msg.SeqID); err != nil {
		return err
	}
	if err := e.bus.Room(ctx, model.ChannelRoom(channelID), event.ReadUpdated, event.PriorityLow,
		model.ReadUpdatedPayload{ChannelID: channelID, UserID: userID, LastReadMessageID: messageID}); err != nil {
		e.log.Warn("read.updated publish failed", slog.Any("error", err))
	}
	return nil
}

func envelopeOf(m *model.Message) *event.MessageEnvelope {
	env := &event.MessageEnvelope{
		MsgID:       m.ID,
		ChannelID:   m.ChannelID,
		SenderID:    m.SenderID,
		SeqID:       m.SeqID,
		Type:        m.Type.Wire(),
		Content:     m.Content,
		ParentID:    m.ParentID,
		RootID:      m.RootID,
		ClientMsgID: m.ClientMsgID,
		Timestamp:   m.CreatedAt,
	}
	for _, a := range m.Attachments {
		env.Attachments = append(env.Attachments, event.EnvelopeAttachment{
			ID: a.ID, URL: a.URL, FileName: a.FileName, MimeType: a.MimeType, Size: a.Size,
		})
	}
	return env
}
