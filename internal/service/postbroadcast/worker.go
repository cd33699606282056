// Package postbroadcast runs everything that happens after a message is
// committed and fanned out: unread counters, notification intents, bot
// webhooks and outbox completion.
package postbroadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/metrics"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/store"
)

// Worker processes one outbox task end to end. Tasks arrive at least once
// (queue redelivery, scanner re-publish), so every step is idempotent:
// unread bumps are guarded by the observed-seq mark, notifications carry the
// message id for consumer-side dedup, and completion is a no-op on a
// completed row.
type Worker struct {
	store    *store.Store
	bus      *broadcast.Broadcaster
	webhooks *WebhookSender
	log      *slog.Logger
}

func NewWorker(st *store.Store, bus *broadcast.Broadcaster, webhooks *WebhookSender, log *slog.Logger) *Worker {
	return &Worker{store: st, bus: bus, webhooks: webhooks, log: log.With(slog.String("comp", "postbroadcast"))}
}

// Process executes the post-broadcast pipeline for one task. A non-nil
// return nacks the queue message for redelivery.
func (w *Worker) Process(ctx context.Context, task *event.OutboxTask) error {
	ob, err := w.store.GetOutbox(ctx, task.OutboxID)
	if errors.Is(err, store.ErrNotFound) {
		w.log.Warn("outbox row vanished", slog.Int64("outbox_id", task.OutboxID))
		return nil
	}
	if err != nil {
		return err
	}
	if ob.Status == model.OutboxCompleted {
		return nil // replayed task
	}

	var env event.MessageEnvelope
	if err := json.Unmarshal(ob.Payload, &env); err != nil {
		// Unparseable payload will never succeed; park the row instead of
		// redelivering forever.
		w.log.Error("malformed outbox payload", slog.Int64("outbox_id", ob.ID), slog.Any("error", err))
		metrics.OutboxTasks.WithLabelValues("failed").Inc()
		return w.store.FailOutbox(ctx, ob.ID)
	}

	members, err := w.store.ActiveMemberIDs(ctx, env.ChannelID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	for _, member := range members {
		if member == env.SenderID {
			continue
		}
		if _, err := w.store.BumpUnread(ctx, member, env.ChannelID, env.SeqID); err != nil {
			return fmt.Errorf("bump unread: %w", err)
		}
	}

	if err := w.notify(ctx, &env, members); err != nil {
		return err
	}
	w.deliverWebhooks(ctx, &env)

	if err := w.store.CompleteOutbox(ctx, ob.ID); err != nil {
		return err
	}
	metrics.OutboxTasks.WithLabelValues("completed").Inc()
	return nil
}

// notify derives notification intents: direct-message, thread-reply and
// mention. One message can produce several intents for different targets;
// duplicates for the same target are left to the notification consumer,
// which ranks intents by kind.
func (w *Worker) notify(ctx context.Context, env *event.MessageEnvelope, members []uuid.UUID) error {
	ch, err := w.store.GetChannel(ctx, env.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil // channel tombstoned mid-flight, nothing to notify
	}
	if err != nil {
		return err
	}

	if ch.Type == model.ChannelDirect {
		for _, member := range members {
			if member == env.SenderID {
				continue
			}
			target := member
			if err := w.publishNotification(ctx, &event.NotificationTask{
				Kind:         event.NotificationDM,
				MessageID:    env.MsgID,
				ChannelID:    env.ChannelID,
				SenderID:     env.SenderID,
				TargetUserID: &target,
			}); err != nil {
				return err
			}
		}
	}

	if env.ParentID != nil {
		parent, err := w.store.GetMessage(ctx, *env.ParentID)
		if err == nil && parent.SenderID != env.SenderID {
			target := parent.SenderID
			task := &event.NotificationTask{
				Kind:         event.NotificationReply,
				MessageID:    env.MsgID,
				ChannelID:    env.ChannelID,
				SenderID:     env.SenderID,
				TargetUserID: &target,
			}
			// A direct reply to the root has rootId == parentId and stays a
			// plain reply; only a deeper reply tags the thread and carries
			// the root's sender.
			if env.RootID != nil && *env.RootID != *env.ParentID {
				if root, err := w.store.GetMessage(ctx, *env.RootID); err == nil {
					rootSender := root.SenderID
					task.ThreadReply = true
					task.RootSenderID = &rootSender
				}
			}
			if err := w.publishNotification(ctx, task); err != nil {
				return err
			}
		}
	}

	mentions, err := w.store.MentionsOf(ctx, env.MsgID)
	if err != nil {
		return fmt.Errorf("list mentions: %w", err)
	}
	for _, m := range mentions {
		task := &event.NotificationTask{
			Kind:      event.NotificationMention,
			MessageID: env.MsgID,
			ChannelID: env.ChannelID,
			SenderID:  env.SenderID,
		}
		switch m.Type {
		case model.MentionUser:
			if m.MentionedUserID == nil || *m.MentionedUserID == env.SenderID {
				continue
			}
			task.TargetUserID = m.MentionedUserID
		case model.MentionEveryone:
			task.BroadcastType = "everyone"
		case model.MentionHere:
			task.BroadcastType = "here"
		}
		if err := w.publishNotification(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) publishNotification(ctx context.Context, task *event.NotificationTask) error {
	if err := w.bus.Notification(ctx, task); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// webhookBody is the wire shape posted to bot endpoints: the event name and
// the message data enriched with sender and channel summaries, so bots do
// not have to resolve ids themselves.
type webhookBody struct {
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Data      webhookData `json:"data"`
}

type webhookData struct {
	MessageID uuid.UUID      `json:"messageId"`
	ChannelID uuid.UUID      `json:"channelId"`
	SenderID  uuid.UUID      `json:"senderId"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	ParentID  *uuid.UUID     `json:"parentId,omitempty"`
	CreatedAt int64          `json:"createdAt"`
	Sender    webhookUser    `json:"sender"`
	Channel   webhookChannel `json:"channel"`
}

type webhookUser struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Type string    `json:"type"`
}

type webhookChannel struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Name        string    `json:"name"`
	ChannelType string    `json:"channelType"`
}

// deliverWebhooks posts the message to every active bot member except the
// sender. Failures are absorbed: a bot outage must not hold the outbox open.
func (w *Worker) deliverWebhooks(ctx context.Context, env *event.MessageEnvelope) {
	bots, err := w.store.ActiveBotsInChannel(ctx, env.ChannelID)
	if err != nil {
		w.log.Warn("list channel bots", slog.Any("error", err))
		return
	}
	if len(bots) == 0 {
		return
	}

	payload, err := w.webhookPayload(ctx, env)
	if err != nil {
		w.log.Warn("build webhook body", slog.Any("error", err))
		return
	}
	// Bots are independent targets; one slow endpoint must not serialize the
	// rest. Deliver errors are already absorbed per bot.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, bot := range bots {
		if bot.ID == env.SenderID {
			continue // a bot never hears its own message
		}
		g.Go(func() error {
			_ = w.webhooks.Deliver(gctx, bot, "message.created", payload)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) webhookPayload(ctx context.Context, env *event.MessageEnvelope) ([]byte, error) {
	ch, err := w.store.GetChannel(ctx, env.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}
	sender, err := w.store.GetUser(ctx, env.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	return json.Marshal(&webhookBody{
		Event:     "message.created",
		Timestamp: time.Now().UnixMilli(),
		Data: webhookData{
			MessageID: env.MsgID,
			ChannelID: env.ChannelID,
			SenderID:  env.SenderID,
			Content:   env.Content,
			Type:      env.Type,
			ParentID:  env.ParentID,
			CreatedAt: env.Timestamp,
			Sender:    webhookUser{ID: sender.ID, Name: sender.Name, Type: sender.Type.Wire()},
			Channel: webhookChannel{
				ID:          ch.ID,
				WorkspaceID: ch.WorkspaceID,
				Name:        ch.Name,
				ChannelType: ch.Type.Wire(),
			},
		},
	})
}
