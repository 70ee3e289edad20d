package apptypes

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned when a blob path does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the object storage used for profile pictures and task proofs.
// It lives here so storage and services do not import each other.
type BlobStore interface {
	// Upload writes the reader's content at path and returns its FileInfo.
	Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) (*FileInfo, error)
	// SignedURL returns a time-limited download URL for path.
	SignedURL(ctx context.Context, path string) (string, error)
	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(ctx context.Context, path string) error
}
