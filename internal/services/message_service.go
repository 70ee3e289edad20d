package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

// ErrEmptyMessage is returned for a message with no visible text.
var ErrEmptyMessage = errors.New("message is empty")

const maxMessagesPage = 200

// MessageService defines chat message operations.
type MessageService interface {
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error)
	// ListMessages returns the conversation oldest first. limit <= 0 means the default page.
	ListMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]*models.Message, error)
}

type messageService struct {
	msgRepo       storage.MessageRepository
	conversations ConversationService
	convoRepo     storage.ConversationRepository
	publisher     EventPublisher
	logger        *zap.Logger
}

// NewMessageService creates a MessageService.
func NewMessageService(
	msgRepo storage.MessageRepository,
	convoRepo storage.ConversationRepository,
	conversations ConversationService,
	publisher EventPublisher,
	logger *zap.Logger,
) MessageService {
	return &messageService{
		msgRepo:       msgRepo,
		conversations: conversations,
		convoRepo:     convoRepo,
		publisher:     publisher,
		logger:        logger.Named("message"),
	}
}

func (s *messageService) SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	conversation, err := s.conversations.GetConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	message := &models.Message{ConversationID: conversationID, SenderID: senderID, Message: text}
	if err := s.msgRepo.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	now := time.Now().UTC()
	if err := s.convoRepo.UpdateLastMessage(ctx, conversationID, text, datatypes.Date(now)); err != nil {
		s.logger.Warn("failed to update conversation preview",
			zap.String("conversation", conversationID), zap.Error(err))
	}

	notify(ctx, s.logger, s.publisher, apptypes.EventMessageCreated, conversation.OtherMember(senderID), senderID, message)
	return message, nil
}

func (s *messageService) ListMessages(ctx context.Context, conversationID, userID string, limit, offset int) ([]*models.Message, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxMessagesPage {
		limit = maxMessagesPage
	}
	messages, err := s.msgRepo.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
