package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

var (
	ErrNotConversationMember = errors.New("user is not a member of this conversation")
	ErrSelfConversation      = errors.New("cannot start a conversation with yourself")
	ErrConversationNotFound  = storage.ErrConversationNotFound
)

// ConversationView is a conversation as seen by one member.
type ConversationView struct {
	*models.Conversation
	Other *models.UserBasicInfo `json:"other,omitempty"`
}

// ConversationService defines the one-to-one chat conversation operations.
type ConversationService interface {
	// GetOrCreateConversation returns the pair's conversation, creating it on first use.
	GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, error)
	// ListUserConversations orders by last message, newest first.
	ListUserConversations(ctx context.Context, userID string) ([]*ConversationView, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
}

type conversationService struct {
	convoRepo storage.ConversationRepository
	profiles  storage.ProfileStore
	pictures  *pictureResolver
	logger    *zap.Logger
}

// NewConversationService creates a ConversationService.
func NewConversationService(convoRepo storage.ConversationRepository, profiles storage.ProfileStore, blobs apptypes.BlobStore, logger *zap.Logger) ConversationService {
	return &conversationService{
		convoRepo: convoRepo,
		profiles:  profiles,
		pictures:  newPictureResolver(blobs, logger),
		logger:    logger.Named("conversation"),
	}
}

func (s *conversationService) GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, error) {
	if userID == otherUserID {
		return nil, ErrSelfConversation
	}
	if _, err := s.profiles.Get(ctx, otherUserID); err != nil {
		return nil, err
	}
	conversation, err := s.convoRepo.FindOrCreateByPair(ctx, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return conversation, nil
}

func (s *conversationService) ListUserConversations(ctx context.Context, userID string) ([]*ConversationView, error) {
	conversations, err := s.convoRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].SortTime().After(conversations[j].SortTime())
	})

	views := make([]*ConversationView, 0, len(conversations))
	for _, c := range conversations {
		view := &ConversationView{Conversation: c}
		other, err := s.profiles.Get(ctx, c.OtherMember(userID))
		switch {
		case err == nil:
			view.Other = s.pictures.card(ctx, other)
		case !errors.Is(err, storage.ErrProfileNotFound):
			s.logger.Warn("failed to load conversation member",
				zap.String("conversation", c.ID), zap.Error(err))
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *conversationService) GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conversation, err := s.convoRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasMember(userID) {
		return nil, ErrNotConversationMember
	}
	return conversation, nil
}
