package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"drink-check-bot/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	commandStart = "/start"
	commandTest  = "/test"

	defaultDisplayName = "User"
)

// InboundMessage is a transport-neutral chat message
type InboundMessage struct {
	UserID      string
	DisplayName string
	Text        string
	Caption     string
	PhotoRef    string
}

// Bot routes inbound messages to registration, the scheduler and the verification engine
type Bot struct {
	users     UserStore
	events    EventStore
	scheduler *ChallengeScheduler
	engine    *VerificationEngine
	relay     *NotificationRelay
	now       Clock
}

// NewBot creates a new bot
func NewBot(
	users UserStore,
	events EventStore,
	scheduler *ChallengeScheduler,
	engine *VerificationEngine,
	relay *NotificationRelay,
	now Clock,
) *Bot {
	if now == nil {
		now = time.Now
	}
	return &Bot{users: users, events: events, scheduler: scheduler, engine: engine, relay: relay, now: now}
}

// HandleMessage dispatches one inbound message
func (b *Bot) HandleMessage(ctx context.Context, msg InboundMessage) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case text != "":
		if err := b.handleText(ctx, msg, text); err != nil {
			return b.fail(ctx, msg.UserID, err)
		}
		return nil
	case msg.PhotoRef != "":
		_, err := b.engine.Process(ctx, Response{UserID: msg.UserID, Caption: msg.Caption, PhotoRef: msg.PhotoRef})
		return err
	default:
		return b.relay.Prompt(ctx, msg.UserID, promptUnsupported)
	}
}

func (b *Bot) handleText(ctx context.Context, msg InboundMessage, text string) error {
	switch text {
	case commandStart:
		return b.Register(ctx, msg.UserID, msg.DisplayName)
	case commandTest:
		return b.issueNow(ctx, msg.UserID)
	}

	event, err := b.events.GetPendingByUser(ctx, msg.UserID)
	switch {
	case err == nil:
		return b.relay.Prompt(ctx, msg.UserID, promptHint(event.ChallengeCode))
	case errors.Is(err, models.ErrNotFound):
		return b.relay.Prompt(ctx, msg.UserID, promptIdle)
	default:
		return fmt.Errorf("failed to look up pending event: %w", err)
	}
}

// Register creates or reactivates a user and greets them
func (b *Bot) Register(ctx context.Context, userID, displayName string) error {
	if displayName == "" {
		displayName = defaultDisplayName
	}
	user := &models.User{ID: userID, DisplayName: displayName, IsActive: true, CreatedAt: b.now()}
	if err := b.users.Upsert(ctx, user); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	log.Info().Str("user_id", userID).Str("name", displayName).Msg("User registered")

	if err := b.relay.Prompt(ctx, userID, welcomeText(displayName)); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send welcome message")
	}
	b.relay.Admin(ctx, fmt.Sprintf("🆕 New user: %s (%s)", html.EscapeString(displayName), html.EscapeString(userID)))
	return nil
}

func (b *Bot) issueNow(ctx context.Context, userID string) error {
	event, created, err := b.scheduler.IssueFor(ctx, userID)
	if errors.Is(err, models.ErrUnknownUser) {
		return b.relay.Prompt(ctx, userID, promptRegister)
	}
	if err != nil {
		return err
	}
	if !created {
		return b.relay.Reminder(ctx, event, b.now())
	}
	return nil
}

// fail tells the user something went wrong and reports err to the operator chat
func (b *Bot) fail(ctx context.Context, userID string, err error) error {
	log.Error().Err(err).Str("user_id", userID).Msg("Failed to handle message")
	if perr := b.relay.Prompt(ctx, userID, promptInternal); perr != nil {
		log.Error().Err(perr).Str("user_id", userID).Msg("Failed to send prompt")
	}
	b.relay.Admin(ctx, fmt.Sprintf("⚠️ Message handling error for user %s: %s", html.EscapeString(userID), html.EscapeString(err.Error())))
	return err
}
