package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"studybuddy/internal/auth"
	"studybuddy/internal/middleware"
)

// AuthHandler handles token lifecycle endpoints. Tokens are issued by the
// identity provider, so only logout lives here.
type AuthHandler struct {
	TokenBlacklist auth.TokenBlacklist
	logger         *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokenBlacklist auth.TokenBlacklist, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{TokenBlacklist: tokenBlacklist, logger: logger.Named("auth")}
}

// LogoutHandler revokes the current token until it would have expired anyway.
func (h *AuthHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if claims.ID == "" {
		writeJSONError(w, "token has no id and cannot be revoked", http.StatusBadRequest)
		return
	}
	if claims.ExpiresAt == nil {
		writeJSONError(w, "token has no expiry and cannot be revoked", http.StatusBadRequest)
		return
	}

	if err := h.TokenBlacklist.Add(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		h.logger.Error("revoke token", zap.String("user", claims.UserID), zap.Error(err))
		writeJSONError(w, "logout failed", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}
