package bus

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
)

// NewRouter wires this node's subscriptions:
//   - room events through the node-private fan-out queue: every node sees
//     every event and filters by local rooms;
//   - outbox tasks through the shared work queue: each task is processed
//     once cluster-wide, with retry and a poison queue for the hopeless.
func NewRouter(provider pubsub.Provider, consumer *Consumer, nodeID registry.NodeID, logger watermill.LoggerAdapter, log *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		TraceIDMiddleware,
		LoggingMiddleware(log),
		middleware.Timeout(30*time.Second),
	)

	fanout, err := provider.FanoutSubscriber(string(nodeID))
	if err != nil {
		return nil, err
	}
	router.AddNoPublisherHandler(
		"room_events",
		pubsub.TopicRoomEvents,
		fanout,
		Bind(consumer.OnRoomEvent),
	)

	queue, err := provider.QueueSubscriber()
	if err != nil {
		return nil, err
	}
	outbox := router.AddNoPublisherHandler(
		"outbox_tasks",
		pubsub.TopicOutboxTasks,
		queue,
		Bind(consumer.OnOutboxTask),
	)

	poison, err := middleware.PoisonQueue(provider.Publisher(), pubsub.TopicOutboxPoison)
	if err != nil {
		return nil, err
	}
	// Poison wraps retry: a task is parked only after the retries are spent.
	// The database row stays pending, so the scanner surfaces it again later;
	// the poison queue is for operator inspection.
	outbox.AddMiddleware(
		poison,
		middleware.Retry{
			MaxRetries:      5,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
	)

	return router, nil
}
