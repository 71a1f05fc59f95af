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
	photoMimeType = "image/jpeg"

	gestureConfidenceThreshold   = 70
	realPhotoConfidenceThreshold = 80
)

// Verdict reasons
const (
	ReasonMissedDeadline  = reasonMissedDeadline
	ReasonUnsafeContent   = "unsafe content"
	ReasonNoContainer     = "no drinking container visible"
	ReasonNoFace          = "no face visible"
	ReasonGestureMismatch = "gesture mismatch"
	ReasonNotGenuine      = "not a genuine photo"
)

// Outcome names the step that ended a verification attempt
type Outcome string

const (
	OutcomeNoChallenge    Outcome = "no_challenge"
	OutcomeWrongCode      Outcome = "wrong_code"
	OutcomeDownloadFailed Outcome = "download_failed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeSaveFailed     Outcome = "save_failed"
	OutcomeFinalized      Outcome = "finalized"
	OutcomeClosed         Outcome = "closed"
	OutcomeBusy           Outcome = "busy"
	OutcomeError          Outcome = "error"
)

// Retryable reports whether the event is still pending after this outcome
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeWrongCode, OutcomeDownloadFailed, OutcomeDuplicate, OutcomeSaveFailed, OutcomeBusy, OutcomeError:
		return true
	}
	return false
}

// Response is an inbound photo submission
type Response struct {
	UserID   string
	Caption  string
	PhotoRef string
}

// VerificationResult reports how an attempt ended. Event is nil when no challenge was pending.
type VerificationResult struct {
	Outcome Outcome
	Event   *models.Event
}

// VerificationEngine checks photo responses against the pending challenge
type VerificationEngine struct {
	events     EventStore
	ledger     *HashLedger
	messenger  Messenger
	storage    PhotoStorage
	classifier Classifier
	relay      *NotificationRelay
	locker     Locker
	now        Clock
}

// NewVerificationEngine creates a new verification engine. classifier and locker may be nil.
func NewVerificationEngine(
	events EventStore,
	ledger *HashLedger,
	messenger Messenger,
	storage PhotoStorage,
	classifier Classifier,
	relay *NotificationRelay,
	locker Locker,
	now Clock,
) *VerificationEngine {
	if locker == nil {
		locker = NoopLocker()
	}
	if now == nil {
		now = time.Now
	}
	return &VerificationEngine{
		events:     events,
		ledger:     ledger,
		messenger:  messenger,
		storage:    storage,
		classifier: classifier,
		relay:      relay,
		locker:     locker,
		now:        now,
	}
}

// Process runs one response through the verification steps and notifies the user.
// The returned error is set only for internal failures; the user has already been told to retry.
func (e *VerificationEngine) Process(ctx context.Context, resp Response) (*VerificationResult, error) {
	unlock, err := e.locker.Lock(ctx, userLockKey(resp.UserID))
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			e.prompt(ctx, resp.UserID, promptBusy)
			return &VerificationResult{Outcome: OutcomeBusy}, nil
		}
		return e.fail(ctx, resp.UserID, nil, fmt.Errorf("failed to acquire user lock: %w", err))
	}
	defer unlock()

	event, err := e.events.GetPendingByUser(ctx, resp.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			e.prompt(ctx, resp.UserID, promptNoChallenge)
			return &VerificationResult{Outcome: OutcomeNoChallenge}, nil
		}
		return e.fail(ctx, resp.UserID, nil, fmt.Errorf("failed to look up pending event: %w", err))
	}

	logger := log.With().Str("user_id", resp.UserID).Str("event_id", event.ID).Logger()

	caption := strings.TrimSpace(resp.Caption)
	if caption == "" || !strings.Contains(caption, event.ChallengeCode) {
		logger.Info().Str("caption", caption).Msg("Caption does not contain the challenge code")
		e.prompt(ctx, resp.UserID, promptWrongCode(event.ChallengeCode))
		return &VerificationResult{Outcome: OutcomeWrongCode, Event: event}, nil
	}

	data, err := e.messenger.FetchMedia(ctx, resp.PhotoRef)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to download photo")
		e.prompt(ctx, resp.UserID, promptDownloadFailed)
		return &VerificationResult{Outcome: OutcomeDownloadFailed, Event: event}, nil
	}

	hash := Fingerprint(data)
	duplicate, err := e.ledger.Exists(ctx, hash)
	if err != nil {
		return e.fail(ctx, resp.UserID, event, fmt.Errorf("failed to check photo fingerprint: %w", err))
	}
	if duplicate {
		logger.Info().Str("sha256", hash).Msg("Duplicate photo")
		e.prompt(ctx, resp.UserID, promptDuplicate)
		return &VerificationResult{Outcome: OutcomeDuplicate, Event: event}, nil
	}

	stored, err := e.storage.Store(ctx, data, event.ID+".jpg", photoMimeType)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store photo")
		e.prompt(ctx, resp.UserID, promptSaveFailed)
		return &VerificationResult{Outcome: OutcomeSaveFailed, Event: event}, nil
	}

	if err := e.ledger.Record(ctx, hash, stored.Ref); err != nil {
		logger.Error().Err(err).Str("sha256", hash).Msg("Failed to record photo fingerprint")
		e.relay.Admin(ctx, fmt.Sprintf("⚠️ Fingerprint not recorded for event %s: %s", event.ID, html.EscapeString(err.Error())))
	}

	result := e.classify(ctx, data, event.Gesture)
	if result.Inconclusive() {
		logger.Warn().Str("error", result.Error).Msg("Classifier unavailable, treating as inconclusive")
	}

	now := e.now()
	status, reason := ComputeVerdict(event, result, now)

	patch := models.EventPatch{
		Status:           &status,
		PhotoRef:         &stored.Ref,
		PhotoURL:         &stored.PublicURL,
		ValidationResult: result,
		Reason:           &reason,
		RespondedAt:      &now,
	}
	version, err := e.events.Update(ctx, event.ID, event.Version, patch)
	if err != nil {
		if errors.Is(err, models.ErrEventConflict) {
			logger.Warn().Msg("Event closed before the verdict was written")
			e.prompt(ctx, resp.UserID, promptClosed)
			return &VerificationResult{Outcome: OutcomeClosed, Event: event}, nil
		}
		return e.fail(ctx, resp.UserID, event, fmt.Errorf("failed to finalize event: %w", err))
	}
	patch.Apply(event)
	event.Version = version

	logger.Info().Str("status", string(status)).Str("reason", reason).Msg("Event finalized")

	e.relay.Verdict(ctx, event)
	return &VerificationResult{Outcome: OutcomeFinalized, Event: event}, nil
}

// ComputeVerdict applies the verdict precedence: deadline first, then classifier findings.
// An inconclusive classification never rejects a photo.
func ComputeVerdict(event *models.Event, result *models.ValidationResult, now time.Time) (models.EventStatus, string) {
	if event.IsPastDeadline(now) {
		return models.StatusLate, ReasonMissedDeadline
	}
	if result.Inconclusive() {
		return models.StatusValid, ""
	}
	switch {
	case !result.IsSafe:
		return models.StatusInvalid, ReasonUnsafeContent
	case !result.HasBottle:
		return models.StatusInvalid, ReasonNoContainer
	case !result.HasFace:
		return models.StatusInvalid, ReasonNoFace
	case !result.GestureMatch && result.Confidence > gestureConfidenceThreshold:
		return models.StatusInvalid, ReasonGestureMismatch
	case !result.IsRealPhoto && result.Confidence > realPhotoConfidenceThreshold:
		return models.StatusInvalid, ReasonNotGenuine
	}
	return models.StatusValid, ""
}

func (e *VerificationEngine) classify(ctx context.Context, data []byte, gesture string) *models.ValidationResult {
	if e.classifier == nil {
		return &models.ValidationResult{Error: "classifier not configured"}
	}
	result, err := e.classifier.Classify(ctx, data, gesture)
	if err != nil {
		return &models.ValidationResult{Error: err.Error()}
	}
	if result == nil {
		return &models.ValidationResult{Error: "empty classifier result"}
	}
	return result
}

func (e *VerificationEngine) prompt(ctx context.Context, userID, text string) {
	if err := e.relay.Prompt(ctx, userID, text); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send prompt")
	}
}

func (e *VerificationEngine) fail(ctx context.Context, userID string, event *models.Event, err error) (*VerificationResult, error) {
	log.Error().Err(err).Str("user_id", userID).Msg("Verification failed")
	e.prompt(ctx, userID, promptInternal)
	e.relay.Admin(ctx, fmt.Sprintf("⚠️ Verification error for user %s: %s", html.EscapeString(userID), html.EscapeString(err.Error())))
	return &VerificationResult{Outcome: OutcomeError, Event: event}, err
}
