package storage

import (
	"context"

	"gorm.io/gorm"

	"studybuddy/internal/models"
)

// MessageRepository defines the message data operations.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// ListByConversation returns messages oldest first.
	ListByConversation(ctx context.Context, conversationID string, limit int, offset int) ([]*models.Message, error)
}

// gormMessageRepository implements MessageRepository using GORM.
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a GORM-based MessageRepository.
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *gormMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	query := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}
