package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
)

// Deliverer pushes an event to a connected client.
type Deliverer interface {
	Deliver(event apptypes.Event) bool
}

// RealtimeEventHandler forwards events from the realtime topic to the websocket hub.
type RealtimeEventHandler struct {
	hub    Deliverer
	logger *zap.Logger
}

// NewRealtimeEventHandler creates a RealtimeEventHandler.
func NewRealtimeEventHandler(hub Deliverer, logger *zap.Logger) *RealtimeEventHandler {
	return &RealtimeEventHandler{hub: hub, logger: logger.Named("realtime")}
}

// HandleMessage is a kafka.MessageHandler. Undecodable messages are skipped so
// they do not block the partition.
func (h *RealtimeEventHandler) HandleMessage(_ context.Context, msg *kafka.Message) error {
	var event apptypes.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Warn("skipping undecodable realtime event",
			zap.String("key", string(msg.Key)), zap.Error(err))
		return nil
	}
	if event.RecipientID == "" {
		h.logger.Warn("skipping realtime event without recipient", zap.String("id", event.ID))
		return nil
	}
	h.hub.Deliver(event)
	return nil
}
