package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
)

var (
	ErrInvalidImageType = errors.New("file must be a JPEG, PNG, GIF or WebP image")
	ErrImageTooLarge    = errors.New("image exceeds the size limit")
	ErrNoBlobStore      = errors.New("blob storage is not configured")
)

// MaxImageSize is the upload limit for profile pictures and task proofs.
const MaxImageSize int64 = 10 << 20

// Upload is a file received from a client.
type Upload struct {
	Reader      io.Reader
	Size        int64
	Filename    string
	ContentType string
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// imageExtension validates the upload as an image and returns the extension to store it under.
func (u Upload) imageExtension() (string, error) {
	ext, ok := imageExtensions[strings.ToLower(strings.TrimSpace(u.ContentType))]
	if !ok {
		return "", ErrInvalidImageType
	}
	if u.Size > MaxImageSize {
		return "", ErrImageTooLarge
	}
	if fromName := strings.TrimPrefix(strings.ToLower(filepath.Ext(u.Filename)), "."); fromName == "jpeg" || fromName == ext {
		return fromName, nil
	}
	return ext, nil
}

// pictureResolver fills in signed picture URLs on profile cards.
type pictureResolver struct {
	blobs  apptypes.BlobStore
	logger *zap.Logger
}

func newPictureResolver(blobs apptypes.BlobStore, logger *zap.Logger) *pictureResolver {
	return &pictureResolver{blobs: blobs, logger: logger}
}

func (r *pictureResolver) url(ctx context.Context, key string) string {
	if r == nil || r.blobs == nil || key == "" {
		return ""
	}
	u, err := r.blobs.SignedURL(ctx, key)
	if err != nil {
		r.logger.Warn("failed to sign blob url", zap.String("path", key), zap.Error(err))
		return ""
	}
	return u
}

func (r *pictureResolver) card(ctx context.Context, p *models.UserProfile) *models.UserBasicInfo {
	info := p.Basic()
	info.PfpURL = r.url(ctx, p.PfpKey)
	return info
}
