package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/kafka"
)

// EventPublisher hands realtime events to the delivery layer.
type EventPublisher interface {
	Publish(ctx context.Context, event apptypes.Event) error
}

type kafkaEventPublisher struct {
	producer kafka.MessageProducer
	topic    string
}

// NewKafkaEventPublisher publishes events to topic, keyed by recipient so a
// user's events stay ordered within a partition.
func NewKafkaEventPublisher(producer kafka.MessageProducer, topic string) EventPublisher {
	return &kafkaEventPublisher{producer: producer, topic: topic}
}

func (p *kafkaEventPublisher) Publish(ctx context.Context, event apptypes.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	return p.producer.SendMessage(ctx, p.topic, []byte(event.RecipientID), payload)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, apptypes.Event) error { return nil }

// NoopPublisher drops every event.
func NoopPublisher() EventPublisher { return noopPublisher{} }

const publishTimeout = 5 * time.Second

// notify publishes best effort: failures are logged and never returned.
func notify(ctx context.Context, logger *zap.Logger, publisher EventPublisher, typ apptypes.EventType, recipient, actor string, payload interface{}) {
	if publisher == nil || recipient == "" {
		return
	}
	event := apptypes.Event{
		ID:          uuid.NewString(),
		Type:        typ,
		RecipientID: recipient,
		ActorID:     actor,
		Timestamp:   time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("dropping event with unencodable payload", zap.String("type", string(typ)), zap.Error(err))
			return
		}
		event.Payload = raw
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := publisher.Publish(pubCtx, event); err != nil {
		logger.Warn("failed to publish realtime event",
			zap.String("type", string(typ)),
			zap.String("recipient", recipient),
			zap.Error(err))
	}
}
