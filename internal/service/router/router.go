// Package router is the single write path for messages: validation, seq
// allocation, idempotent persistence, outbox co-commit and bus publication.
package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/metrics"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/sequence"
	"github.com/webitel/im-messaging-service/internal/store"
)

var (
	ErrChannelNotFound = errors.New("router: channel not found")
	ErrNotMember       = errors.New("router: sender is not an active member")
	ErrEmptyContent    = errors.New("router: empty content")
	ErrContentTooLong  = errors.New("router: content too long")
	ErrParentNotFound  = errors.New("router: parent message not found")
	ErrParentMismatch  = errors.New("router: parent belongs to another channel")
)

// CreateMessage is the send request after transport decoding.
type CreateMessage struct {
	ChannelID   uuid.UUID
	SenderID    uuid.UUID
	Type        model.MessageType
	Content     string
	ParentID    *uuid.UUID
	ClientMsgID string
	Attachments []*model.Attachment
}

type Router struct {
	store      *store.Store
	alloc      *sequence.Allocator
	bus        *broadcast.Broadcaster
	workspaces *broadcast.WorkspaceBroadcaster
	dedup      *dedupCache
	maxContent int
	log        *slog.Logger
}

type Params struct {
	Store      *store.Store
	Alloc      *sequence.Allocator
	Bus        *broadcast.Broadcaster
	Workspaces *broadcast.WorkspaceBroadcaster
	DedupSize  int
	DedupTTL   time.Duration
	MaxContent int
	Log        *slog.Logger
}

func New(p Params) *Router {
	return &Router{
		store:      p.Store,
		alloc:      p.Alloc,
		bus:        p.Bus,
		workspaces: p.Workspaces,
		dedup:      newDedupCache(p.DedupSize, p.DedupTTL),
		maxContent: p.MaxContent,
		log:        p.Log.With(slog.String("comp", "router")),
	}
}

// Send commits a message and triggers its broadcast. The returned flag
// reports a duplicate: the message is the one committed by an earlier send
// with the same (channel, clientMsgId), and no new broadcast is produced.
//
// Commit order inside the transaction is what makes delivery exactly-once
// per member: seq allocation, the message row, its mentions and the pending
// outbox row all land atomically, so any observer of the message can rely on
// the outbox row existing.
func (r *Router) Send(ctx context.Context, in *CreateMessage) (*model.Message, bool, error) {
	if err := r.validate(ctx, in); err != nil {
		return nil, false, err
	}

	// Fast path: recently committed duplicate.
	if in.ClientMsgID != "" {
		if msgID, ok := r.dedup.get(in.ChannelID, in.ClientMsgID); ok {
			orig, err := r.store.GetMessage(ctx, msgID)
			if err == nil {
				metrics.MessagesDeduplicated.Inc()
				return orig, true, nil
			}
		}
	}

	now := time.Now().UnixMilli()
	msg := &model.Message{
		ID:          uuid.Must(uuid.NewV7()),
		ChannelID:   in.ChannelID,
		SenderID:    in.SenderID,
		ClientMsgID: in.ClientMsgID,
		ParentID:    in.ParentID,
		Type:        in.Type,
		Content:     in.Content,
		CreatedAt:   now,
		UpdatedAt:   now,
		Attachments: in.Attachments,
	}
	if msg.Type == 0 {
		msg.Type = model.MessageText
	}

	var (
		envelope *event.MessageEnvelope
		outboxID int64
	)
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if in.ParentID != nil {
			root, err := r.resolveRoot(ctx, tx, in)
			if err != nil {
				return err
			}
			msg.RootID = &root
		}

		seq, err := r.alloc.Next(ctx, tx, in.ChannelID)
		if err != nil {
			if errors.Is(err, sequence.ErrUnknownChannel) {
				return ErrChannelNotFound
			}
			return err
		}
		msg.SeqID = seq

		if err := r.store.InsertMessageTx(ctx, tx, msg); err != nil {
			return err
		}

		mentions := parseMentions(msg.Content)
		for i := range mentions {
			mentions[i].MessageID = msg.ID
		}
		if err := r.store.InsertMentionsTx(ctx, tx, mentions); err != nil {
			return err
		}

		envelope = envelopeOf(msg)
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		outboxID, err = r.store.InsertOutboxTx(ctx, tx, msg.ID, msg.ChannelID, payload)
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the race (or a retry arrived after cache expiry): resolve the
		// committed original instead of failing the send.
		orig, lookupErr := r.store.GetMessageByClientID(ctx, in.ChannelID, in.ClientMsgID)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("resolve duplicate: %w", lookupErr)
		}
		r.dedup.put(in.ChannelID, in.ClientMsgID, orig.ID)
		metrics.MessagesDeduplicated.Inc()
		return orig, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if in.ClientMsgID != "" {
		r.dedup.put(in.ChannelID, in.ClientMsgID, msg.ID)
	}
	metrics.MessagesCreated.Inc()

	// Post-commit publications are best effort: the outbox scanner
	// re-publishes anything that does not reach a consumer.
	if err := r.bus.Room(ctx, model.ChannelRoom(msg.ChannelID), event.MessageCreated, event.PriorityHigh, envelope); err != nil {
		r.log.Warn("room publish failed, scanner will recover",
			slog.String("msg_id", msg.ID.String()), slog.Any("error", err))
	}
	task := &event.OutboxTask{OutboxID: outboxID, MessageID: msg.ID, ChannelID: msg.ChannelID}
	if err := r.bus.OutboxTask(ctx, task); err != nil {
		r.log.Warn("outbox task publish failed, scanner will recover",
			slog.Int64("outbox_id", outboxID), slog.Any("error", err))
	}
	return msg, false, nil
}

func (r *Router) validate(ctx context.Context, in *CreateMessage) error {
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return ErrEmptyContent
	}
	if r.maxContent > 0 && len(in.Content) > r.maxContent {
		return ErrContentTooLong
	}
	if _, err := r.store.GetChannel(ctx, in.ChannelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrChannelNotFound
		}
		return err
	}
	member, err := r.store.IsActiveMember(ctx, in.ChannelID, in.SenderID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

// resolveRoot flattens the thread: a reply to a reply is rooted at the
// original top-level message, never at its direct parent.
func (r *Router) resolveRoot(ctx context.Context, tx *sql.Tx, in *CreateMessage) (uuid.UUID, error) {
	parent, err := r.store.GetMessageTx(ctx, tx, *in.ParentID)
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, ErrParentNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	if parent.ChannelID != in.ChannelID {
		return uuid.Nil, ErrParentMismatch
	}
	if parent.RootID != nil {
		return *parent.RootID, nil
	}
	return parent.ID, nil
}

// envelopeOf builds the broadcast form of a committed message.
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
