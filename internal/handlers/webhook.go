package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"drink-check-bot/internal/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// MessageHandler consumes inbound chat messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg services.InboundMessage) error
}

// WebhookHandler receives Telegram updates
type WebhookHandler struct {
	bot    MessageHandler
	secret string
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables the header check.
func NewWebhookHandler(bot MessageHandler, secret string) *WebhookHandler {
	return &WebhookHandler{bot: bot, secret: secret}
}

// Status handles GET /telegram/webhook
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("webhook is active"))
}

// HandleUpdate handles POST /telegram/webhook.
// Every authenticated update is acknowledged with 200 so Telegram does not redeliver it.
func (h *WebhookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			respondError(w, "invalid secret token", http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		log.Warn().Err(err).Msg("Failed to decode Telegram update")
		respondOK(w)
		return
	}

	msg, ok := inboundFromUpdate(update)
	if !ok {
		log.Debug().Int("update_id", update.UpdateID).Msg("Ignoring update without message")
		respondOK(w)
		return
	}

	// processing outlives a dropped connection
	ctx := context.WithoutCancel(r.Context())
	if err := h.bot.HandleMessage(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Int("update_id", update.UpdateID).
			Str("user_id", msg.UserID).
			Msg("Failed to handle message")
	}

	respondOK(w)
}

func respondOK(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// inboundFromUpdate converts a Telegram update, picking the largest photo size
func inboundFromUpdate(update tgbotapi.Update) (services.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return services.InboundMessage{}, false
	}

	msg := services.InboundMessage{
		UserID:  strconv.FormatInt(m.Chat.ID, 10),
		Text:    m.Text,
		Caption: m.Caption,
	}
	if m.From != nil {
		msg.DisplayName = m.From.FirstName
	}

	var best *tgbotapi.PhotoSize
	for i := range m.Photo {
		p := &m.Photo[i]
		if best == nil || p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	if best != nil {
		msg.PhotoRef = best.FileID
	}
	return msg, true
}
