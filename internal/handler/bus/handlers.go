// Package bus consumes the inter-node topics: room events into the local
// hub, outbox tasks into the post-broadcast worker.
package bus

import (
	"context"
	"log/slog"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/metrics"
	"github.com/webitel/im-messaging-service/internal/service/postbroadcast"
)

// Consumer holds the handler targets for this node's subscriptions.
type Consumer struct {
	hub    registry.Hubber
	worker *postbroadcast.Worker
	log    *slog.Logger
}

func NewConsumer(hub registry.Hubber, worker *postbroadcast.Worker, log *slog.Logger) *Consumer {
	return &Consumer{hub: hub, worker: worker, log: log.With(slog.String("comp", "bus"))}
}

// OnRoomEvent replays a fan-out event into the local hub. Every node,
// including the origin, takes this path; delivery to sockets has exactly one
// entry point. A zero local delivery count is normal: the room may live
// entirely on other nodes.
func (c *Consumer) OnRoomEvent(_ context.Context, ev *event.BusEvent) error {
	delivered := c.hub.BroadcastRoom(ev.ToRoomEvent())
	metrics.BusEventsDelivered.Inc()
	c.log.Debug("room event delivered",
		slog.String("room", ev.Room),
		slog.String("origin", ev.Origin),
		slog.Int("local_cells", delivered))
	return nil
}

// OnOutboxTask runs the post-broadcast pipeline. Errors nack the message so
// the queue redelivers; the worker is idempotent under redelivery.
func (c *Consumer) OnOutboxTask(ctx context.Context, task *event.OutboxTask) error {
	return c.worker.Process(ctx, task)
}
