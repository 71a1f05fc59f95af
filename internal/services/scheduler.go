package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"drink-check-bot/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	reasonMissedDeadline = "missed deadline"

	codeMin = 1000
	codeMax = 9999
)

// Sweep actions
const (
	ActionExpired  = "expired"
	ActionReminded = "reminded"
)

// SchedulerConfig holds the challenge cadence
type SchedulerConfig struct {
	DeadlineMinutes  int
	ReminderInterval time.Duration
	Gestures         []string
}

// IssuedChallenge describes one challenge delivered by IssueChallenges
type IssuedChallenge struct {
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
	Code    string `json:"code"`
	Gesture string `json:"gesture"`
}

// SweepAction describes one transition made by SweepReminders
type SweepAction struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Action  string `json:"action"`
}

// ChallengeScheduler issues challenges and advances pending events
type ChallengeScheduler struct {
	users  UserStore
	events EventStore
	relay  *NotificationRelay
	locker Locker
	cfg    SchedulerConfig
	now    Clock

	newCode    func() string
	newGesture func(gestures []string) string
}

// NewChallengeScheduler creates a new scheduler
func NewChallengeScheduler(
	users UserStore,
	events EventStore,
	relay *NotificationRelay,
	locker Locker,
	cfg SchedulerConfig,
	now Clock,
) *ChallengeScheduler {
	if locker == nil {
		locker = NoopLocker()
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeScheduler{
		users:      users,
		events:     events,
		relay:      relay,
		locker:     locker,
		cfg:        cfg,
		now:        now,
		newCode:    generateChallengeCode,
		newGesture: pickGesture,
	}
}

// IssueChallenges creates and delivers a challenge for every active user without a pending event.
// Per-user failures are logged and skipped.
func (s *ChallengeScheduler) IssueChallenges(ctx context.Context) ([]IssuedChallenge, error) {
	users, err := s.users.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	log.Info().Int("users", len(users)).Msg("Issuing challenges")

	issued := make([]IssuedChallenge, 0, len(users))
	for _, user := range users {
		event, created, err := s.IssueFor(ctx, user.ID)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue challenge")
			continue
		}
		if !created {
			log.Debug().Str("user_id", user.ID).Str("event_id", event.ID).Msg("User already has a pending challenge")
			continue
		}
		issued = append(issued, IssuedChallenge{
			UserID:  user.ID,
			EventID: event.ID,
			Code:    event.ChallengeCode,
			Gesture: event.Gesture,
		})
	}
	return issued, nil
}

// IssueFor creates and delivers a challenge for one user.
// When the user already has a pending event it is returned with created=false.
func (s *ChallengeScheduler) IssueFor(ctx context.Context, userID string) (*models.Event, bool, error) {
	pending, err := s.events.GetPendingByUser(ctx, userID)
	switch {
	case err == nil:
		return pending, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up pending event: %w", err)
	}

	now := s.now()
	event := &models.Event{
		ID:              uuid.New().String(),
		UserID:          userID,
		ChallengeCode:   s.newCode(),
		Gesture:         s.newGesture(s.cfg.Gestures),
		CreatedAt:       now,
		DeadlineMinutes: s.cfg.DeadlineMinutes,
		NextReminderAt:  now,
		Status:          models.StatusPending,
	}

	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, models.ErrPendingEventExists) {
			pending, err := s.events.GetPendingByUser(ctx, userID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to look up pending event: %w", err)
			}
			return pending, false, nil
		}
		return nil, false, err
	}

	if err := s.relay.Challenge(ctx, event); err != nil {
		return event, true, fmt.Errorf("failed to deliver challenge: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("event_id", event.ID).
		Str("gesture", event.Gesture).
		Msg("Challenge issued")

	return event, true, nil
}

// SweepReminders expires pending events past their deadline and reminds the ones that are due.
// Per-event failures are logged and skipped.
func (s *ChallengeScheduler) SweepReminders(ctx context.Context) ([]SweepAction, error) {
	events, err := s.events.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}

	var actions []SweepAction
	for _, event := range events {
		action, err := s.sweepOne(ctx, event)
		if err != nil {
			log.Error().Err(err).Str("user_id", event.UserID).Str("event_id", event.ID).Msg("Failed to sweep event")
			continue
		}
		if action != "" {
			actions = append(actions, SweepAction{EventID: event.ID, UserID: event.UserID, Action: action})
		}
	}
	return actions, nil
}

func (s *ChallengeScheduler) sweepOne(ctx context.Context, event *models.Event) (string, error) {
	unlock, err := s.locker.Lock(ctx, userLockKey(event.UserID))
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			return "", nil
		}
		return "", err
	}
	defer unlock()

	now := s.now()

	if event.IsPastDeadline(now) {
		status := models.StatusExpired
		reason := reasonMissedDeadline
		patch := models.EventPatch{Status: &status, Reason: &reason}
		if !s.apply(ctx, event, patch) {
			return "", nil
		}
		s.relay.Expired(ctx, event)
		return ActionExpired, nil
	}

	if now.Before(event.NextReminderAt) {
		return "", nil
	}

	next := now.Add(s.cfg.ReminderInterval)
	count := event.ReminderCount + 1
	if !s.apply(ctx, event, models.EventPatch{NextReminderAt: &next, ReminderCount: &count}) {
		return "", nil
	}
	if err := s.relay.Reminder(ctx, event, now); err != nil {
		return "", err
	}
	return ActionReminded, nil
}

// apply writes patch and mirrors it on event. A concurrent change is not an error for the sweep.
func (s *ChallengeScheduler) apply(ctx context.Context, event *models.Event, patch models.EventPatch) bool {
	version, err := s.events.Update(ctx, event.ID, event.Version, patch)
	if err != nil {
		if errors.Is(err, models.ErrEventConflict) {
			log.Debug().Str("event_id", event.ID).Msg("Event changed during sweep, skipping")
		} else {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to update event")
		}
		return false
	}
	patch.Apply(event)
	event.Version = version
	return true
}

// generateChallengeCode returns a random code in [1000, 9999]
func generateChallengeCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return fmt.Sprintf("%d", codeMin+n.Int64())
}

func pickGesture(gestures []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(gestures))))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return gestures[n.Int64()]
}
