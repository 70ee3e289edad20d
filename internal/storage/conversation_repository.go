package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studybuddy/internal/models"
)

// ErrConversationNotFound is returned when a conversation ID does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository defines the conversation data operations.
type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	// FindByPair returns nil, nil when the two users have no conversation yet.
	FindByPair(ctx context.Context, userA, userB string) (*models.Conversation, error)
	// FindOrCreateByPair is safe against two callers racing to create the same pair.
	FindOrCreateByPair(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	UpdateLastMessage(ctx context.Context, id string, text string, at datatypes.Date) error
}

// gormConversationRepository implements ConversationRepository using GORM.
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a GORM-based ConversationRepository.
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

func (r *gormConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return nil, err
	}
	return &conversation, nil
}

func (r *gormConversationRepository) FindByPair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	first, second := models.CanonicalPair(userA, userB)
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("member_a = ? AND member_b = ?", first, second).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversation, nil
}

// FindOrCreateByPair inserts with ON CONFLICT DO NOTHING on the pair index, then reads back.
func (r *gormConversationRepository) FindOrCreateByPair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	existing, err := r.FindByPair(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	conversation := models.NewConversation(userA, userB)
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_a"}, {Name: "member_b"}},
			DoNothing: true,
		}).
		Create(conversation).Error
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	created, err := r.FindByPair(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("conversation for %s/%s vanished after create", userA, userB)
	}
	return created, nil
}

func (r *gormConversationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Where("member_a = ? OR member_b = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST").
		Order("created_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *gormConversationRepository) UpdateLastMessage(ctx context.Context, id string, text string, at datatypes.Date) error {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_message": text, "last_message_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}
