// Package events publishes persisted chat messages to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"punch-chat/internal/config"
	"punch-chat/internal/metrics"
	"punch-chat/internal/models"
	"punch-chat/pkg/logger"

	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	MessagePersisted(ctx context.Context, msg *models.Message) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) MessagePersisted(context.Context, *models.Message) error { return nil }
func (Nop) Close() error                                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every record by room id so one room's messages land
// on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher writes asynchronously so a slow broker never delays
// delivery to the room. Failed batches are logged from the completion hook.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.EventPublishFailures.Add(float64(len(msgs)))
				logger.Error("events.kafka_write_failed", "count", len(msgs), "err", err)
			}
		},
	}}
}

// New returns a Kafka publisher when brokers are configured, Nop otherwise.
func New(cfg config.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	logger.Info("events.kafka", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewKafkaPublisher(cfg)
}

func (p *KafkaPublisher) MessagePersisted(ctx context.Context, msg *models.Message) error {
	value, err := json.Marshal(models.NewMessageFrame(msg))
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(msg.RoomID)),
		Value: value,
		Time:  msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("write message event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
