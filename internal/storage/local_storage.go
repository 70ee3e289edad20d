package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/config"
)

// ErrInvalidBlobPath is returned for paths that escape the store root.
var ErrInvalidBlobPath = errors.New("invalid blob path")

// LocalBlobStore keeps blobs on the local filesystem. Its signed URLs carry an
// HS256 token naming the blob path, verified by Resolve when served.
type LocalBlobStore struct {
	basePath   string
	baseURL    string // e.g. "http://localhost:8081/blobs"
	signingKey []byte
	ttl        time.Duration
}

// NewLocalBlobStore creates the store, making sure the base directory exists.
func NewLocalBlobStore(cfg config.StorageConfig, baseURL string, signingKey string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("create local storage directory '%s': %w", cfg.LocalPath, err)
	}
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LocalBlobStore{
		basePath:   cfg.LocalPath,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		signingKey: []byte(signingKey),
		ttl:        ttl,
	}, nil
}

func (s *LocalBlobStore) fullPath(blobPath string) (string, error) {
	clean := path.Clean("/" + blobPath)
	if clean == "/" || strings.Contains(blobPath, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlobPath, blobPath)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Upload writes reader to blobPath, replacing any existing blob.
func (s *LocalBlobStore) Upload(ctx context.Context, blobPath string, reader io.Reader, size int64, contentType string) (*apptypes.FileInfo, error) {
	dstPath, err := s.fullPath(blobPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create blob '%s': %w", dstPath, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if size >= 0 && written != size {
		os.Remove(dstPath)
		return nil, fmt.Errorf("blob size mismatch: expected %d, wrote %d", size, written)
	}

	return &apptypes.FileInfo{Path: blobPath, Size: written, MimeType: contentType}, nil
}

// SignedURL returns a URL valid for the configured TTL.
func (s *LocalBlobStore) SignedURL(ctx context.Context, blobPath string) (string, error) {
	if _, err := s.fullPath(blobPath); err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   blobPath,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign blob url: %w", err)
	}
	return s.baseURL + "/" + url.PathEscape(token), nil
}

// Resolve verifies a token issued by SignedURL and returns the file to serve.
func (s *LocalBlobStore) Resolve(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid blob token: %w", err)
	}
	full, err := s.fullPath(claims.Subject)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", apptypes.ErrBlobNotFound
		}
		return "", err
	}
	return full, nil
}

// Remove deletes the blob; a missing blob is not an error.
func (s *LocalBlobStore) Remove(ctx context.Context, blobPath string) error {
	full, err := s.fullPath(blobPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob '%s': %w", blobPath, err)
	}
	return nil
}
