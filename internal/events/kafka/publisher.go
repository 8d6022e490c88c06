package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"tuscoin/internal/broadcast"
	"tuscoin/internal/config"
	"tuscoin/internal/events"
)

// Writer is the part of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher mirrors broadcaster events onto a Kafka topic, keyed by kind.
type Publisher struct {
	writer  Writer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPublisher builds an async kafka.Writer from cfg. Delivery failures are
// logged from the writer's completion callback.
func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *Publisher {
	logger = logger.With().Str("component", "kafka").Str("topic", cfg.Topic).Logger()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		WriteTimeout: cfg.WriteTimeout,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error().Err(err).Int("messages", len(messages)).Msg("kafka delivery failed")
			}
		},
	}
	return NewPublisherWithWriter(writer, cfg.WriteTimeout, logger)
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w Writer, timeout time.Duration, logger zerolog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{writer: w, timeout: timeout, logger: logger}
}

// Attach subscribes the publisher to every event kind.
func (p *Publisher) Attach(b *broadcast.Broadcaster) *broadcast.Subscription {
	return b.SubscribeAll(p.Handle)
}

// Handle encodes and writes one event.
func (p *Publisher) Handle(ev broadcast.Event) error {
	env, err := events.Encode(ev)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(env.Kind),
		Value: value,
		Time:  env.At,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(env.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("event", env.Kind).Msg("failed to publish event")
		return err
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
