package auth

import (
	"context"
	"time"
)

// TokenBlacklist stores revoked token IDs (jti).
type TokenBlacklist interface {
	// Add revokes jti until the token would have expired anyway.
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}
