package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventPublisher publishes domain events to the configured stream.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// watermillPublisher publishes events through any watermill publisher.
type watermillPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// NewKafkaEventPublisher creates an EventPublisher backed by Kafka.
func NewKafkaEventPublisher(brokers []string, topic string, logger *slog.Logger) (EventPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &watermillPublisher{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}, nil
}

// NewChannelEventPublisher creates an in-process EventPublisher. Used in
// development when no Kafka brokers are configured.
func NewChannelEventPublisher(topic string, logger *slog.Logger) EventPublisher {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewSlogLogger(logger),
	)

	return &watermillPublisher{
		publisher: pubSub,
		topic:     topic,
		logger:    logger,
	}
}

func (p *watermillPublisher) Publish(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", event.Type)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	p.logger.Debug("Published event",
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", p.topic)

	return nil
}

func (p *watermillPublisher) Close() error {
	return p.publisher.Close()
}
