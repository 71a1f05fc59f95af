package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const (
	maxPhotoBytes   = 20 << 20
	downloadTimeout = 30 * time.Second
)

// TelegramMessenger delivers messages through the Telegram Bot API
type TelegramMessenger struct {
	bot         *tgbotapi.BotAPI
	adminChatID int64
	httpClient  *http.Client
}

// NewTelegramMessenger authorises the bot token. adminChatID 0 disables admin notices.
func NewTelegramMessenger(token string, adminChatID int64) (*TelegramMessenger, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramMessenger{
		bot:         bot,
		adminChatID: adminChatID,
		httpClient:  &http.Client{Timeout: downloadTimeout},
	}, nil
}

// SendText sends an HTML message to a chat
func (m *TelegramMessenger) SendText(ctx context.Context, userID, html string) (bool, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid chat id %q: %w", userID, err)
	}
	return m.send(chatID, html)
}

// SendAdminNotice sends an HTML message to the operator chat
func (m *TelegramMessenger) SendAdminNotice(ctx context.Context, html string) error {
	if m.adminChatID == 0 {
		return nil
	}
	if _, err := m.send(m.adminChatID, html); err != nil {
		return err
	}
	return nil
}

// FetchMedia downloads a file by its Telegram file id
func (m *TelegramMessenger) FetchMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	url, err := m.bot.GetFileDirectURL(mediaRef)
	if err != nil {
		return nil, &DownloadError{Ref: mediaRef, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{Ref: mediaRef, Err: err}
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &DownloadError{Ref: mediaRef, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{Ref: mediaRef, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, &DownloadError{Ref: mediaRef, Err: err}
	}
	if len(data) > maxPhotoBytes {
		return nil, &DownloadError{Ref: mediaRef, Err: errors.New("photo too large")}
	}
	return data, nil
}

// send reports delivered=false without an error when Telegram refused the message
func (m *TelegramMessenger) send(chatID int64, html string) (bool, error) {
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := m.bot.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			log.Warn().Int64("chat_id", chatID).Int("code", apiErr.Code).Str("description", apiErr.Message).Msg("Telegram refused message")
			return false, nil
		}
		return false, fmt.Errorf("failed to send telegram message: %w", err)
	}
	return true, nil
}
