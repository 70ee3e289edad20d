package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"studybuddy/internal/models"
)

// ErrProfileNotFound is returned when no profile exists for an ID.
var ErrProfileNotFound = errors.New("profile not found")

// ErrProfileExists is returned by Create when the ID is taken.
var ErrProfileExists = errors.New("profile already exists")

// ErrInvalidPageToken is returned for a page token the store did not issue.
var ErrInvalidPageToken = errors.New("invalid page token")

// ProfileStore is the document store holding user profiles.
// Each Update is atomic for one record only; there are no multi-record transactions.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*models.UserProfile, error)
	// Update merges patch into the stored profile and returns the result.
	Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error)
	Create(ctx context.Context, profile *models.UserProfile) error
	// List returns one page of profiles ordered by ID.
	List(ctx context.Context, query ProfileQuery) (*ProfilePage, error)
}

// ProfileQuery filters a profile listing.
type ProfileQuery struct {
	ExcludeID string // skip this profile, usually the caller
	Banned    *bool  // nil means any
	Limit     int
	PageToken string
}

// ProfilePage is one page of a listing. NextPageToken is empty on the last page.
type ProfilePage struct {
	Items         []*models.UserProfile `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

const defaultPageLimit = 100

func (q ProfileQuery) limit() int {
	if q.Limit <= 0 || q.Limit > 1000 {
		return defaultPageLimit
	}
	return q.Limit
}

func (q ProfileQuery) matches(p *models.UserProfile) bool {
	if q.ExcludeID != "" && p.ID == q.ExcludeID {
		return false
	}
	if q.Banned != nil && p.Banned != *q.Banned {
		return false
	}
	return true
}

func encodePageToken(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}

func decodePageToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPageToken, token)
	}
	return string(raw), nil
}
