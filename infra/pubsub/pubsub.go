// Package pubsub builds the watermill transports that connect nodes.
//
// Two delivery shapes are needed:
//   - fan-out: every gateway node owns a private queue on the room-events
//     topic, so each node sees every event and filters by local rooms;
//   - work queue: outbox tasks are shared by all worker instances, each task
//     is processed once cluster-wide.
//
// With an AMQP URL configured both shapes map onto a topic exchange; without
// one, the in-process gochannel transport serves a single node (and tests).
package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics (routing keys on the AMQP exchange).
const (
	TopicRoomEvents        = "im_messaging.room.events.v1"
	TopicOutboxTasks       = "im_messaging.outbox.tasks.v1"
	TopicNotificationTasks = "im_messaging.notification.tasks.v1"
	TopicOutboxPoison      = "im_messaging.outbox.tasks.v1.poison"
)

// Provider yields the publisher and subscribers for one node.
type Provider interface {
	Publisher() message.Publisher
	// FanoutSubscriber consumes through a queue unique to this group (node):
	// every group receives every message on the subscribed topic.
	FanoutSubscriber(group string) (message.Subscriber, error)
	// QueueSubscriber consumes through a queue shared by all nodes:
	// competing-consumer semantics.
	QueueSubscriber() (message.Subscriber, error)
	Close() error
}

// --- in-process transport ---

var _ Provider = (*ChannelProvider)(nil)

// ChannelProvider wraps a single gochannel instance. Every Subscribe call on
// a gochannel topic receives its own copy, which matches fan-out; the single
// process has exactly one queue consumer, so work-queue semantics hold too.
type ChannelProvider struct {
	ch *gochannel.GoChannel
}

func NewChannelProvider(logger watermill.LoggerAdapter) *ChannelProvider {
	return &ChannelProvider{
		ch: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
	}
}

func (p *ChannelProvider) Publisher() message.Publisher { return p.ch }

func (p *ChannelProvider) FanoutSubscriber(string) (message.Subscriber, error) {
	return p.ch, nil
}

func (p *ChannelProvider) QueueSubscriber() (message.Subscriber, error) {
	return p.ch, nil
}

func (p *ChannelProvider) Close() error { return p.ch.Close() }

// --- AMQP transport ---

var _ Provider = (*AMQPProvider)(nil)

type AMQPProvider struct {
	url    string
	logger watermill.LoggerAdapter

	publisher message.Publisher
	closers   []interface{ Close() error }
}

func NewAMQPProvider(url string, logger watermill.LoggerAdapter) (*AMQPProvider, error) {
	cfg := amqp.NewDurablePubSubConfig(url, nil)
	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	p := &AMQPProvider{url: url, logger: logger, publisher: pub}
	p.closers = append(p.closers, pub)
	return p, nil
}

func (p *AMQPProvider) Publisher() message.Publisher { return p.publisher }

func (p *AMQPProvider) FanoutSubscriber(group string) (message.Subscriber, error) {
	cfg := amqp.NewDurablePubSubConfig(p.url,
		amqp.GenerateQueueNameTopicNameWithSuffix("."+group))
	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, sub)
	return sub, nil
}

func (p *AMQPProvider) QueueSubscriber() (message.Subscriber, error) {
	cfg := amqp.NewDurableQueueConfig(p.url)
	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, sub)
	return sub, nil
}

func (p *AMQPProvider) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
