package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studybuddy/internal/models"
)

// gormProfileStore implements ProfileStore on PostgreSQL.
type gormProfileStore struct {
	db *gorm.DB
}

// NewGormProfileStore creates a ProfileStore backed by gorm.
func NewGormProfileStore(db *gorm.DB) ProfileStore {
	return &gormProfileStore{db: db}
}

func (s *gormProfileStore) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
		}
		return nil, err
	}
	return &profile, nil
}

// Update writes only the patched columns, then reads the row back.
func (s *gormProfileStore) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	if patch.IsEmpty() {
		return s.Get(ctx, id)
	}
	res := s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("id = ?", id).
		Updates(patch.Columns())
	if res.Error != nil {
		return nil, fmt.Errorf("update profile %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return s.Get(ctx, id)
}

// Create relies on the primary key; a collision maps to ErrProfileExists.
func (s *gormProfileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	err := s.db.WithContext(ctx).Create(profile).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrProfileExists, profile.ID)
	}
	return err
}

// List pages by keyset on id.
func (s *gormProfileStore) List(ctx context.Context, query ProfileQuery) (*ProfilePage, error) {
	after, err := decodePageToken(query.PageToken)
	if err != nil {
		return nil, err
	}
	limit := query.limit()

	tx := s.db.WithContext(ctx).Model(&models.UserProfile{}).Order("id ASC").Limit(limit + 1)
	if after != "" {
		tx = tx.Where("id > ?", after)
	}
	if query.ExcludeID != "" {
		tx = tx.Where("id <> ?", query.ExcludeID)
	}
	if query.Banned != nil {
		tx = tx.Where("banned = ?", *query.Banned)
	}

	var items []*models.UserProfile
	if err := tx.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	page := &ProfilePage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextPageToken = encodePageToken(page.Items[limit-1].ID)
	}
	return page, nil
}
