package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
)

const directBufferSize = 256

// Hub tracks connected clients by user ID and routes realtime events to them.
// One connection per user: a new connection replaces the old one.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	direct     chan apptypes.Event
	done       chan struct{}
	logger     *zap.Logger
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan apptypes.Event, directBufferSize),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// Deliver queues event for its recipient without blocking. It returns false
// when the queue is full and the event was dropped.
func (h *Hub) Deliver(event apptypes.Event) bool {
	select {
	case h.direct <- event:
		return true
	default:
		h.logger.Warn("hub queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("recipient", event.RecipientID))
		return false
	}
}

// Run owns the client map until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer func() {
		close(h.done)
		for id, c := range h.clients {
			close(c.send)
			delete(h.clients, id)
		}
		h.logger.Info("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			if existing, ok := h.clients[client.UserID]; ok {
				h.logger.Info("replacing existing connection", zap.String("user", client.UserID))
				close(existing.send)
			}
			h.clients[client.UserID] = client

		case client := <-h.unregister:
			if stored, ok := h.clients[client.UserID]; ok && stored == client {
				delete(h.clients, client.UserID)
				close(client.send)
			}

		case event := <-h.direct:
			client, ok := h.clients[event.RecipientID]
			if !ok {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
				continue
			}
			select {
			case client.send <- payload:
			default:
				h.logger.Warn("client send buffer full, disconnecting", zap.String("user", event.RecipientID))
				close(client.send)
				delete(h.clients, event.RecipientID)
			}
		}
	}
}

// attach registers c unless the hub has stopped.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach unregisters c; it is a no-op once the hub has stopped.
func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
