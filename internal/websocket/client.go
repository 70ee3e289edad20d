package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/config"
)

const sendBufferSize = 256

// MessageHandler handles a chat message sent by an authenticated client.
type MessageHandler func(ctx context.Context, senderID string, msg apptypes.ClientMessage) error

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID string

	handleMessage MessageHandler
	logger        *zap.Logger
}

type timeouts struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

func timeoutsFrom(cfg config.WebSocketConfig) timeouts {
	t := timeouts{
		writeWait:      time.Duration(cfg.WriteWaitSeconds) * time.Second,
		pongWait:       time.Duration(cfg.PongWaitSeconds) * time.Second,
		pingPeriod:     time.Duration(cfg.PingPeriodSeconds) * time.Second,
		maxMessageSize: int64(cfg.MaxMessageSizeBytes),
	}
	if t.writeWait <= 0 {
		t.writeWait = 10 * time.Second
	}
	if t.pongWait <= 0 {
		t.pongWait = 60 * time.Second
	}
	if t.pingPeriod <= 0 || t.pingPeriod >= t.pongWait {
		t.pingPeriod = t.pongWait * 9 / 10
	}
	if t.maxMessageSize <= 0 {
		t.maxMessageSize = 4096
	}
	return t
}

// readPump reads chat messages from the connection and hands them to handleMessage.
// Failures are reported back to the sender as an error event.
func (c *Client) readPump(ctx context.Context, t timeouts) {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(t.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg apptypes.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reportError("", "malformed message")
			continue
		}
		if c.handleMessage == nil {
			continue
		}
		if err := c.handleMessage(ctx, c.UserID, msg); err != nil {
			c.logger.Debug("chat message rejected", zap.String("conversation", msg.ConversationID), zap.Error(err))
			c.reportError(msg.ClientID, err.Error())
		}
	}
}

func (c *Client) reportError(clientMsgID, message string) {
	payload, _ := json.Marshal(map[string]string{"id": clientMsgID, "error": message})
	c.hub.Deliver(apptypes.Event{
		ID:          uuid.NewString(),
		Type:        apptypes.EventError,
		RecipientID: c.UserID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	})
}

// writePump writes hub events to the connection, one event per frame, and keeps it alive with pings.
func (c *Client) writePump(t timeouts) {
	ticker := time.NewTicker(t.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWsPerConnection upgrades the request and attaches the connection to the hub as userID.
func ServeWsPerConnection(ctx context.Context, hub *Hub, handler MessageHandler, userID string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, checkOrigin func(*http.Request) bool) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Info("websocket upgrade failed", zap.String("user", userID), zap.Error(err))
		return
	}

	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		UserID:        userID,
		handleMessage: handler,
		logger:        hub.logger.With(zap.String("user", userID)),
	}
	if !hub.attach(client) {
		conn.Close()
		return
	}

	t := timeoutsFrom(wsCfg)
	go client.writePump(t)
	go client.readPump(ctx, t)
	client.logger.Debug("client connected")
}
