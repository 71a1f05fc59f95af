package handlers

import (
	"context"
	"net/http"

	"drink-check-bot/internal/services"

	"github.com/rs/zerolog/log"
)

// ChallengeRunner runs the scheduler batches
type ChallengeRunner interface {
	IssueChallenges(ctx context.Context) ([]services.IssuedChallenge, error)
	SweepReminders(ctx context.Context) ([]services.SweepAction, error)
}

// CronHandler exposes the scheduler batches for external cron triggers
type CronHandler struct {
	scheduler ChallengeRunner
}

// NewCronHandler creates a new cron handler
func NewCronHandler(scheduler ChallengeRunner) *CronHandler {
	return &CronHandler{scheduler: scheduler}
}

// Schedule handles POST /api/v1/cron/schedule
func (h *CronHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	issued, err := h.scheduler.IssueChallenges(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue challenges")
		respondError(w, "Failed to issue challenges", http.StatusInternalServerError)
		return
	}
	if issued == nil {
		issued = []services.IssuedChallenge{}
	}

	log.Info().Int("issued", len(issued)).Msg("Challenges issued")
	respondJSON(w, http.StatusOK, map[string]any{"issued": issued})
}

// Sweep handles POST /api/v1/cron/sweep
func (h *CronHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	actions, err := h.scheduler.SweepReminders(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep reminders")
		respondError(w, "Failed to sweep reminders", http.StatusInternalServerError)
		return
	}
	if actions == nil {
		actions = []services.SweepAction{}
	}

	log.Info().Int("actions", len(actions)).Msg("Reminders swept")
	respondJSON(w, http.StatusOK, map[string]any{"actions": actions})
}
