package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"studybuddy/internal/services"
)

// ConversationHandler handles one-to-one conversations and their messages.
type ConversationHandler struct {
	convoService   services.ConversationService
	messageService services.MessageService
	logger         *zap.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(convoService services.ConversationService, messageService services.MessageService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		convoService:   convoService,
		messageService: messageService,
		logger:         logger.Named("conversations"),
	}
}

// StartConversationPayload is the body of POST /conversations.
type StartConversationPayload struct {
	OtherUserID string `json:"otherUserId" validate:"required"`
}

// SendMessagePayload is the body of POST /conversations/{id}/messages.
type SendMessagePayload struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// StartConversationHandler handles POST /conversations.
func (h *ConversationHandler) StartConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload StartConversationPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	convo, err := h.convoService.GetOrCreateConversation(r.Context(), userID, payload.OtherUserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, convo)
}

// GetUserConversationsHandler handles GET /conversations.
func (h *ConversationHandler) GetUserConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	convos, err := h.convoService.ListUserConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, convos)
}

// GetConversationMessagesHandler handles GET /conversations/{id}/messages?limit=&offset=.
func (h *ConversationHandler) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	messages, err := h.messageService.ListMessages(r.Context(), mux.Vars(r)["id"], userID,
		queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// SendMessageHandler handles POST /conversations/{id}/messages. The realtime
// copy reaches the other member through the event stream.
func (h *ConversationHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload SendMessagePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := h.messageService.SendMessage(r.Context(), mux.Vars(r)["id"], userID, payload.Message)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}
