// Package broadcast publishes domain events onto the inter-node bus.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/internal/domain/event"
)

// Broadcaster is the single write side of the bus. Every node (including
// this one) consumes the room-events topic through its own queue, so
// publishing here is the only delivery path; the hub is never written to
// directly by business code.
type Broadcaster struct {
	pub    message.Publisher
	origin string
	log    *slog.Logger
}

func New(pub message.Publisher, origin string, log *slog.Logger) *Broadcaster {
	return &Broadcaster{pub: pub, origin: origin, log: log.With(slog.String("comp", "broadcast"))}
}

// Room publishes a room-scoped event to the fan-out topic.
func (b *Broadcaster) Room(ctx context.Context, room string, kind event.Kind, priority event.Priority, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	ev := &event.BusEvent{
		ID:         uuid.NewString(),
		Origin:     b.origin,
		Room:       room,
		Kind:       kind,
		Priority:   priority,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    raw,
	}
	return b.publish(ctx, pubsub.TopicRoomEvents, ev.ID, ev)
}

// OutboxTask enqueues a post-broadcast task on the shared work queue.
func (b *Broadcaster) OutboxTask(ctx context.Context, task *event.OutboxTask) error {
	return b.publish(ctx, pubsub.TopicOutboxTasks, uuid.NewString(), task)
}

// Notification hands a rendered notification intent to downstream consumers.
func (b *Broadcaster) Notification(ctx context.Context, task *event.NotificationTask) error {
	return b.publish(ctx, pubsub.TopicNotificationTasks, uuid.NewString(), task)
}

func (b *Broadcaster) publish(ctx context.Context, topic, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	msg := message.NewMessage(id, body)
	msg.SetContext(ctx)
	if err := b.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.log.Debug("published", slog.String("topic", topic), slog.String("id", id))
	return nil
}
