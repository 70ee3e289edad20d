package chatserver

import (
	"context"
	"net/http"
	"net/url"
	"slices"

	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/auth"
	"studybuddy/internal/config"
	"studybuddy/internal/middleware"
	"studybuddy/internal/services"
	ws "studybuddy/internal/websocket"
)

// WebSocketHandler authenticates websocket upgrades and attaches them to the hub.
type WebSocketHandler struct {
	ctx            context.Context
	hub            *ws.Hub
	messageService services.MessageService
	blacklist      auth.TokenBlacklist
	cfg            config.Config
	logger         *zap.Logger
}

// NewWebSocketHandler creates a WebSocketHandler. ctx bounds the lifetime of
// message handling for every connection.
func NewWebSocketHandler(ctx context.Context, hub *ws.Hub, msgService services.MessageService, blacklist auth.TokenBlacklist, cfg config.Config, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:            ctx,
		hub:            hub,
		messageService: msgService,
		blacklist:      blacklist,
		cfg:            cfg,
		logger:         logger.Named("ws"),
	}
}

// ServeWS upgrades an authenticated request. Browsers cannot set headers on a
// websocket handshake, so the token may also come in the "token" query parameter.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		h.logger.Info("rejected websocket connection", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws.ServeWsPerConnection(h.ctx, h.hub, h.handleMessage, claims.UserID, w, r, h.cfg.WebSocket, h.checkOrigin)
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, senderID string, msg apptypes.ClientMessage) error {
	_, err := h.messageService.SendMessage(ctx, msg.ConversationID, senderID, msg.Message)
	return err
}

// checkOrigin accepts same-host requests and the configured CORS origins.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := h.cfg.APIServer.CORS.AllowedOrigins
	if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}
