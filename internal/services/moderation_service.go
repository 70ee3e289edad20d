package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

// ErrNotAdmin is returned when a non-admin attempts a moderation action.
var ErrNotAdmin = errors.New("admin privileges required")

// SystemActor is the admin ID used by operator tooling; it skips the admin flag check.
const SystemActor = "system:operator"

// ModerationService applies bans decided from the report queue.
type ModerationService interface {
	// BanUser marks the user banned and removes them from every relationship.
	BanUser(ctx context.Context, adminID, userID string) (*PurgeResult, error)
	UnbanUser(ctx context.Context, adminID, userID string) error
	// IsAdmin reports whether the profile carries the admin flag.
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

type moderationService struct {
	store     storage.ProfileStore
	repair    RepairService
	publisher EventPublisher
	logger    *zap.Logger
}

// NewModerationService creates a ModerationService.
func NewModerationService(store storage.ProfileStore, repair RepairService, publisher EventPublisher, logger *zap.Logger) ModerationService {
	return &moderationService{store: store, repair: repair, publisher: publisher, logger: logger.Named("moderation")}
}

func (s *moderationService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Admin, nil
}

func (s *moderationService) requireAdmin(ctx context.Context, adminID string) error {
	if adminID == SystemActor {
		return nil
	}
	ok, err := s.IsAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

func (s *moderationService) BanUser(ctx context.Context, adminID, userID string) (*PurgeResult, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if _, err := s.store.Update(ctx, userID, models.ProfilePatch{Banned: models.Ptr(true)}); err != nil {
		return nil, fmt.Errorf("ban %s: %w", userID, err)
	}
	s.logger.Info("user banned", zap.String("admin", adminID), zap.String("user", userID))

	result, err := s.repair.ClearBuddyAndCleanup(ctx, userID)
	if result != nil && result.FormerBuddyID != "" {
		notify(ctx, s.logger, s.publisher, apptypes.EventBuddyLeft, result.FormerBuddyID, userID, nil)
	}
	if err != nil {
		return result, fmt.Errorf("ban %s: cleanup: %w", userID, err)
	}
	return result, nil
}

func (s *moderationService) UnbanUser(ctx context.Context, adminID, userID string) error {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	if _, err := s.store.Update(ctx, userID, models.ProfilePatch{Banned: models.Ptr(false)}); err != nil {
		return fmt.Errorf("unban %s: %w", userID, err)
	}
	s.logger.Info("user unbanned", zap.String("admin", adminID), zap.String("user", userID))
	return nil
}
