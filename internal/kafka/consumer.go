package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"studybuddy/internal/config"
)

const pollTimeoutMs = 1000

// MessageHandler processes one consumed message. A nil return commits its offset.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer runs a consume loop until ctx is done.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer implements MessageConsumer with confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	logger   *zap.Logger
}

// NewConfluentKafkaConsumer creates a consumer; the underlying client is created by Consume.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, logger *zap.Logger) MessageConsumer {
	return &confluentKafkaConsumer{cfg: cfg, logger: logger.Named("kafka.consumer")}
}

// Consume blocks until ctx is cancelled or a fatal Kafka error occurs.
// The realtime topic is delivery only, so a new group starts from the latest offset.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.cfg.Brokers, ","),
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("create kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := consumer.SubscribeTopics(topics, nil); err != nil {
		c.Close()
		return fmt.Errorf("subscribe to %v for group %s: %w", topics, groupID, err)
	}
	log := c.logger.With(zap.String("group", groupID))
	log.Info("kafka consumer started", zap.Strings("topics", topics))

	for {
		select {
		case <-ctx.Done():
			log.Info("kafka consumer stopping")
			return nil
		default:
		}

		switch e := consumer.Poll(pollTimeoutMs).(type) {
		case nil:
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Warn("failed to handle message",
					zap.Stringp("topic", e.TopicPartition.Topic),
					zap.String("offset", e.TopicPartition.Offset.String()),
					zap.Error(err))
				continue
			}
			if _, err := consumer.CommitMessage(e); err != nil {
				log.Warn("failed to commit offset", zap.Error(err))
			}
		case kafka.Error:
			if e.IsFatal() {
				log.Error("fatal kafka error", zap.Error(e))
				return e
			}
			log.Warn("kafka error", zap.Error(e), zap.Bool("retriable", e.IsRetriable()))
		case kafka.AssignedPartitions:
			log.Info("partitions assigned", zap.Int("count", len(e.Partitions)))
			_ = consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("partitions revoked", zap.Int("count", len(e.Partitions)))
			_ = consumer.Unassign()
		}
	}
}

// Close closes the consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.logger.Warn("error closing kafka consumer", zap.String("group", c.groupID), zap.Error(err))
	}
	c.consumer = nil
}
