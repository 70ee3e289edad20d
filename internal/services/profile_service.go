package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

var (
	ErrProfileExists  = storage.ErrProfileExists
	ErrEmptyUsername  = errors.New("username is required")
	ErrNothingToApply = errors.New("no profile fields to update")
)

const defaultFinderPageSize = 10

// ProfileInput carries the owner-editable profile fields. Nil fields are left unchanged.
type ProfileInput struct {
	Username  *string  `json:"username" validate:"omitempty,min=1,max=100"`
	Bio       *string  `json:"bio" validate:"omitempty,max=2000"`
	School    *string  `json:"school" validate:"omitempty,max=200"`
	Interests []string `json:"interests" validate:"omitempty,max=20,dive,min=1,max=50"`
}

// ProfileView is a full profile with its signed picture URL.
type ProfileView struct {
	*models.UserProfile
	PfpURL string `json:"pfpUrl,omitempty"`
}

// ProfileListing is one finder page.
type ProfileListing struct {
	Items         []*models.UserBasicInfo `json:"items"`
	NextPageToken string                  `json:"nextPageToken,omitempty"`
}

// ProfileService defines the profile operations.
type ProfileService interface {
	CreateProfile(ctx context.Context, userID string, input ProfileInput) (*ProfileView, error)
	GetProfile(ctx context.Context, userID string) (*ProfileView, error)
	UpdateProfile(ctx context.Context, userID string, input ProfileInput) (*ProfileView, error)
	// ListProfiles is the buddy finder: everyone except the caller and banned users.
	ListProfiles(ctx context.Context, callerID string, limit int, pageToken string) (*ProfileListing, error)
	SetProfilePicture(ctx context.Context, userID string, upload Upload) (*ProfileView, error)
	ProfilePictureURL(ctx context.Context, userID string) (string, error)
}

type profileService struct {
	store    storage.ProfileStore
	blobs    apptypes.BlobStore
	pictures *pictureResolver
	logger   *zap.Logger
}

// NewProfileService creates a ProfileService. blobs may be nil, which disables pictures.
func NewProfileService(store storage.ProfileStore, blobs apptypes.BlobStore, logger *zap.Logger) ProfileService {
	return &profileService{
		store:    store,
		blobs:    blobs,
		pictures: newPictureResolver(blobs, logger),
		logger:   logger.Named("profile"),
	}
}

func (s *profileService) view(ctx context.Context, p *models.UserProfile) *ProfileView {
	return &ProfileView{UserProfile: p, PfpURL: s.pictures.url(ctx, p.PfpKey)}
}

func (input ProfileInput) patch() models.ProfilePatch {
	patch := models.ProfilePatch{Bio: input.Bio, School: input.School}
	if input.Username != nil {
		name := strings.TrimSpace(*input.Username)
		patch.Username = &name
	}
	if input.Interests != nil {
		interests := make([]string, 0, len(input.Interests))
		for _, i := range input.Interests {
			if i = strings.TrimSpace(i); i != "" {
				interests = append(interests, i)
			}
		}
		patch.Interests = interests
	}
	return patch
}

func (s *profileService) CreateProfile(ctx context.Context, userID string, input ProfileInput) (*ProfileView, error) {
	patch := input.patch()
	if patch.Username == nil || *patch.Username == "" {
		return nil, ErrEmptyUsername
	}
	profile := &models.UserProfile{
		BaseModel: models.BaseModel{ID: userID},
		Sent:      []string{},
		Request:   []string{},
		Interests: []string{},
	}
	patch.Apply(profile)

	if err := s.store.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("create profile %s: %w", userID, err)
	}
	s.logger.Info("profile created", zap.String("user", userID))
	return s.view(ctx, profile), nil
}

func (s *profileService) GetProfile(ctx context.Context, userID string) (*ProfileView, error) {
	profile, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, profile), nil
}

func (s *profileService) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (*ProfileView, error) {
	patch := input.patch()
	if patch.IsEmpty() {
		return nil, ErrNothingToApply
	}
	if patch.Username != nil && *patch.Username == "" {
		return nil, ErrEmptyUsername
	}
	profile, err := s.store.Update(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}
	return s.view(ctx, profile), nil
}

func (s *profileService) ListProfiles(ctx context.Context, callerID string, limit int, pageToken string) (*ProfileListing, error) {
	if limit <= 0 {
		limit = defaultFinderPageSize
	}
	notBanned := false
	page, err := s.store.List(ctx, storage.ProfileQuery{
		ExcludeID: callerID,
		Banned:    &notBanned,
		Limit:     limit,
		PageToken: pageToken,
	})
	if err != nil {
		return nil, err
	}
	listing := &ProfileListing{
		Items:         make([]*models.UserBasicInfo, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, p := range page.Items {
		listing.Items = append(listing.Items, s.pictures.card(ctx, p))
	}
	return listing, nil
}

// SetProfilePicture stores the image under a fresh key, points pfp_key at it
// and then removes the previous picture.
func (s *profileService) SetProfilePicture(ctx context.Context, userID string, upload Upload) (*ProfileView, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	ext, err := upload.imageExtension()
	if err != nil {
		return nil, err
	}
	current, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("profile-pictures/%s/%s.%s", userID, uuid.NewString(), ext)
	if _, err := s.blobs.Upload(ctx, key, upload.Reader, upload.Size, upload.ContentType); err != nil {
		return nil, fmt.Errorf("upload profile picture: %w", err)
	}
	updated, err := s.store.Update(ctx, userID, models.ProfilePatch{PfpKey: &key})
	if err != nil {
		if rmErr := s.blobs.Remove(ctx, key); rmErr != nil {
			s.logger.Warn("failed to remove orphaned picture", zap.String("path", key), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("save profile picture: %w", err)
	}

	if old := current.PfpKey; old != "" && old != key {
		if err := s.blobs.Remove(ctx, old); err != nil {
			s.logger.Warn("failed to remove previous picture", zap.String("path", old), zap.Error(err))
		}
	}
	return s.view(ctx, updated), nil
}

func (s *profileService) ProfilePictureURL(ctx context.Context, userID string) (string, error) {
	profile, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.PfpKey == "" || s.blobs == nil {
		return "", apptypes.ErrBlobNotFound
	}
	return s.blobs.SignedURL(ctx, profile.PfpKey)
}
