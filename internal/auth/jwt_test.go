package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/config"
)

type mapBlacklist struct {
	revoked map[string]bool
	err     error
}

func (m *mapBlacklist) Add(_ context.Context, jti string, _ time.Time) error {
	m.revoked[jti] = true
	return nil
}

func (m *mapBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	return m.revoked[jti], m.err
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Minute, Issuer: "test"}

	token, err := GenerateToken("user-1", "amy", cfg)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		claims, err := ValidateToken(ctx, token, "secret", nil)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, "amy", claims.Username)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := ValidateToken(ctx, token, "other", nil)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("revoked", func(t *testing.T) {
		bl := &mapBlacklist{revoked: map[string]bool{}}
		claims, err := ValidateToken(ctx, token, "secret", bl)
		require.NoError(t, err)
		require.NoError(t, bl.Add(ctx, claims.ID, claims.ExpiresAt.Time))

		_, err = ValidateToken(ctx, token, "secret", bl)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("blacklist unavailable", func(t *testing.T) {
		bl := &mapBlacklist{revoked: map[string]bool{}, err: errors.New("down")}
		_, err := ValidateToken(ctx, token, "secret", bl)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidateToken_SubjectOnly(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "from-provider",
		ID:        "jti-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := ValidateToken(context.Background(), signed, "secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-provider", got.UserID)
}

func TestValidateToken_Expired(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ValidateToken(context.Background(), token, "secret", nil)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
