package services

import (
	"context"
	"fmt"
	"html"
	"math"
	"time"

	"drink-check-bot/internal/models"

	"github.com/rs/zerolog/log"
)

// Domain event subjects, relative to the publisher prefix
const (
	SubjectChallengeIssued   = "challenge.issued"
	SubjectChallengeReminded = "challenge.reminded"
	SubjectChallengeExpired  = "challenge.expired"
	SubjectChallengeVerdict  = "challenge.verdict"
)

// EventNotice is the payload published and broadcast for every lifecycle step
type EventNotice struct {
	Type          string             `json:"type"`
	EventID       string             `json:"event_id"`
	UserID        string             `json:"user_id"`
	Status        models.EventStatus `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	ChallengeCode string             `json:"challenge_code"`
	Gesture       string             `json:"gesture"`
	ReminderCount int                `json:"reminder_count"`
	PhotoURL      string             `json:"photo_url,omitempty"`
	At            time.Time          `json:"at"`
}

// Broadcaster fans notices out to live operator connections
type Broadcaster interface {
	Broadcast(notice EventNotice)
}

// NotificationRelay delivers challenges, reminders and verdicts to users and operators
type NotificationRelay struct {
	messenger Messenger
	publisher Publisher
	feed      Broadcaster
	now       Clock
}

// NewNotificationRelay creates a new relay. publisher and feed may be nil.
func NewNotificationRelay(messenger Messenger, publisher Publisher, feed Broadcaster, now Clock) *NotificationRelay {
	if publisher == nil {
		publisher = NoopPublisher()
	}
	if now == nil {
		now = time.Now
	}
	return &NotificationRelay{messenger: messenger, publisher: publisher, feed: feed, now: now}
}

// Challenge delivers a freshly issued challenge
func (r *NotificationRelay) Challenge(ctx context.Context, event *models.Event) error {
	if err := r.send(ctx, event.UserID, challengeText(event)); err != nil {
		return err
	}
	r.emit(ctx, SubjectChallengeIssued, event)
	return nil
}

// Reminder re-sends the challenge with the time left
func (r *NotificationRelay) Reminder(ctx context.Context, event *models.Event, now time.Time) error {
	if err := r.send(ctx, event.UserID, reminderText(event, now)); err != nil {
		return err
	}
	r.emit(ctx, SubjectChallengeReminded, event)
	return nil
}

// Expired records that an event ran out without a response
func (r *NotificationRelay) Expired(ctx context.Context, event *models.Event) {
	r.emit(ctx, SubjectChallengeExpired, event)
}

// Verdict tells the user the outcome and the operator channel the details
func (r *NotificationRelay) Verdict(ctx context.Context, event *models.Event) {
	if err := r.send(ctx, event.UserID, verdictText(event)); err != nil {
		log.Error().Err(err).Str("user_id", event.UserID).Str("event_id", event.ID).Msg("Failed to deliver verdict")
	}
	r.Admin(ctx, adminVerdictText(event))
	r.emit(ctx, SubjectChallengeVerdict, event)
}

// Prompt sends a plain message to a user
func (r *NotificationRelay) Prompt(ctx context.Context, userID, text string) error {
	return r.send(ctx, userID, text)
}

// Admin sends a notice to the operator channel; failures are only logged
func (r *NotificationRelay) Admin(ctx context.Context, text string) {
	if err := r.messenger.SendAdminNotice(ctx, text); err != nil {
		log.Error().Err(err).Msg("Failed to send admin notice")
	}
}

func (r *NotificationRelay) send(ctx context.Context, userID, text string) error {
	delivered, err := r.messenger.SendText(ctx, userID, text)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", userID, err)
	}
	if !delivered {
		return fmt.Errorf("message to %s: %w", userID, ErrNotDelivered)
	}
	return nil
}

func (r *NotificationRelay) emit(ctx context.Context, subject string, event *models.Event) {
	notice := EventNotice{
		Type:          subject,
		EventID:       event.ID,
		UserID:        event.UserID,
		Status:        event.Status,
		Reason:        event.Reason,
		ChallengeCode: event.ChallengeCode,
		Gesture:       event.Gesture,
		ReminderCount: event.ReminderCount,
		PhotoURL:      event.PhotoURL,
		At:            r.now(),
	}
	if err := r.publisher.Publish(ctx, subject, notice); err != nil {
		log.Warn().Err(err).Str("subject", subject).Str("event_id", event.ID).Msg("Failed to publish event")
	}
	if r.feed != nil {
		r.feed.Broadcast(notice)
	}
}

func challengeText(event *models.Event) string {
	return fmt.Sprintf(
		"💧 <b>Time to drink!</b>\n\nCode: <b>%s</b>\nGesture: <b>%s</b>\nDeadline: %d minutes\n\nSend a <b>PHOTO</b> with the code in the caption 😊",
		html.EscapeString(event.ChallengeCode), html.EscapeString(event.Gesture), event.DeadlineMinutes,
	)
}

func reminderText(event *models.Event, now time.Time) string {
	left := int(math.Round(event.DeadlineAt().Sub(now).Minutes()))
	if left < 0 {
		left = 0
	}
	return fmt.Sprintf(
		"💧 <b>Reminder!</b>\n\nCode: <b>%s</b>\nGesture: <b>%s</b>\nTime left: %d minutes\n\nSend a <b>PHOTO</b> with the code in the caption 😊",
		html.EscapeString(event.ChallengeCode), html.EscapeString(event.Gesture), left,
	)
}

func verdictText(event *models.Event) string {
	switch event.Status {
	case models.StatusValid:
		return "✅ Nice! Your drink is recorded 💧"
	case models.StatusLate:
		return "⚠️ Too late, but it is still recorded. Keep going! 💪"
	default:
		return fmt.Sprintf("❌ %s. Try again next time 🙏", html.EscapeString(event.Reason))
	}
}

func adminVerdictText(event *models.Event) string {
	text := fmt.Sprintf("<b>%s</b>\nUser: %s\nEvent: %s\nCode: %s\nGesture: %s",
		html.EscapeString(string(event.Status)), html.EscapeString(event.UserID), event.ID,
		html.EscapeString(event.ChallengeCode), html.EscapeString(event.Gesture))
	if event.Reason != "" {
		text += "\nReason: " + html.EscapeString(event.Reason)
	}
	if v := event.ValidationResult; v != nil {
		if v.Inconclusive() {
			text += "\nClassifier: unavailable (" + html.EscapeString(v.Error) + ")"
		} else {
			text += fmt.Sprintf("\nClassifier: bottle=%t face=%t drinking=%t gesture=%t real=%t safe=%t confidence=%.0f",
				v.HasBottle, v.HasFace, v.IsDrinking, v.GestureMatch, v.IsRealPhoto, v.IsSafe, v.Confidence)
		}
	}
	if event.PhotoURL != "" {
		text += "\nPhoto: " + html.EscapeString(event.PhotoURL)
	}
	return text
}

const (
	promptNoChallenge    = "No active challenge yet. Wait for the next reminder 💧"
	promptDownloadFailed = "❌ Could not download the photo. Please send it again 🙏"
	promptDuplicate      = "❌ This photo was already sent. Send a NEW photo 🙏"
	promptSaveFailed     = "❌ Could not save the photo. Please try again 🙏"
	promptClosed         = "This challenge is already closed. Wait for the next reminder 💧"
	promptBusy           = "Still checking your previous photo, try again in a moment 🙏"
	promptInternal       = "❌ Something went wrong on our side. Please try again 🙏"
	promptUnsupported    = "Send a <b>PHOTO</b> with the challenge code in the caption 💧"
	promptIdle           = "Got it! When a reminder arrives, reply with a <b>PHOTO</b> + the code 💧"
	promptRegister       = "Send /start first to sign up for drink reminders 💧"
)

func promptWrongCode(code string) string {
	return fmt.Sprintf("❌ Write the code <b>%s</b> in the caption! Try again 🙏", html.EscapeString(code))
}

func promptHint(code string) string {
	return fmt.Sprintf("Not counted yet 😝\n\nSend a <b>PHOTO</b> and write the code <b>%s</b> in the caption.", html.EscapeString(code))
}

func welcomeText(name string) string {
	return fmt.Sprintf("Hi %s! 👋\n\nThe drink reminder is ready. When a reminder arrives, send a <b>PHOTO</b> with the code in the caption 💧",
		html.EscapeString(name))
}
