package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/config"
)

// GCSBlobStore keeps blobs in a Google Cloud Storage bucket.
type GCSBlobStore struct {
	client      *gcs.Client
	bucket      string
	signerEmail string
	ttl         time.Duration
}

// NewGCSBlobStore connects to GCS. CredentialsFile may be empty to use
// application default credentials.
func NewGCSBlobStore(ctx context.Context, cfg config.StorageConfig) (*GCSBlobStore, error) {
	if cfg.GCS.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.GCS.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &GCSBlobStore{
		client:      client,
		bucket:      cfg.GCS.Bucket,
		signerEmail: cfg.GCS.SignerEmail,
		ttl:         ttl,
	}, nil
}

// Close releases the client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

func (s *GCSBlobStore) Upload(ctx context.Context, blobPath string, reader io.Reader, size int64, contentType string) (*apptypes.FileInfo, error) {
	w := s.client.Bucket(s.bucket).Object(blobPath).NewWriter(ctx)
	w.ContentType = contentType

	written, err := io.Copy(w, reader)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("upload %s: %w", blobPath, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload %s: %w", blobPath, err)
	}
	return &apptypes.FileInfo{Path: blobPath, Size: written, MimeType: contentType}, nil
}

func (s *GCSBlobStore) SignedURL(ctx context.Context, blobPath string) (string, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.ttl),
	}
	if s.signerEmail != "" {
		opts.GoogleAccessID = s.signerEmail
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(blobPath, opts)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", blobPath, err)
	}
	return u, nil
}

func (s *GCSBlobStore) Remove(ctx context.Context, blobPath string) error {
	err := s.client.Bucket(s.bucket).Object(blobPath).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("remove %s: %w", blobPath, err)
	}
	return nil
}
