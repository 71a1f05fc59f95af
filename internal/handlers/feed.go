package handlers

import (
	"net/http"

	"drink-check-bot/internal/middleware"
	"drink-check-bot/internal/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedHandler streams event notices to operators over WebSocket
type FeedHandler struct {
	hub  *services.FeedHub
	auth middleware.TokenValidator
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(hub *services.FeedHub, auth middleware.TokenValidator) *FeedHandler {
	return &FeedHandler{hub: hub, auth: auth}
}

// HandleFeed handles GET /ws/feed?token=
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	operator, err := h.auth.ValidateToken(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connID := operator + ":" + uuid.New().String()
	h.hub.Register(connID, conn)
	defer h.hub.Unregister(connID)

	log.Info().Str("operator", operator).Str("conn_id", connID).Msg("Feed connection established")

	// the feed is write-only; reading drives ping/pong and detects close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("conn_id", connID).Msg("WebSocket error")
			}
			return
		}
	}
}
