package apptypes

import (
	"encoding/json"
	"time"
)

// EventType names a realtime notification pushed to a connected client.
type EventType string

const (
	EventBuddyRequestSent      EventType = "buddy.request_sent"
	EventBuddyRequestAccepted  EventType = "buddy.request_accepted"
	EventBuddyRequestRejected  EventType = "buddy.request_rejected"
	EventBuddyRequestCancelled EventType = "buddy.request_cancelled"
	EventBuddyLeft             EventType = "buddy.left"
	EventMessageCreated        EventType = "message.created"
	EventTaskCreated           EventType = "task.created"
	EventTaskProofSubmitted    EventType = "task.proof_submitted"
	EventTaskApproved          EventType = "task.approved"
	EventTaskDeclined          EventType = "task.declined"
	EventError                 EventType = "error"
)

// Event is the envelope carried on the realtime topic and written to websockets.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	RecipientID string          `json:"recipientId"`
	ActorID     string          `json:"actorId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ClientMessage is what a websocket client sends to post a chat message.
type ClientMessage struct {
	ClientID       string `json:"id,omitempty"` // echoed back on errors
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}
