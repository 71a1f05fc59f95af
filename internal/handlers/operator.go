package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"drink-check-bot/internal/middleware"
	"drink-check-bot/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// EventLister reads events for the operator API
type EventLister interface {
	ListByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error)
}

// UserAdmin reads and toggles users for the operator API
type UserAdmin interface {
	ListActive(ctx context.Context) ([]*models.User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// OperatorHandler handles operator HTTP requests
type OperatorHandler struct {
	events EventLister
	users  UserAdmin
}

// NewOperatorHandler creates a new operator handler
func NewOperatorHandler(events EventLister, users UserAdmin) *OperatorHandler {
	return &OperatorHandler{events: events, users: users}
}

// ListEvents handles GET /api/v1/events?status=
func (h *OperatorHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	status := models.EventStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusPending
	}
	if !status.Valid() {
		respondError(w, "unknown status", http.StatusBadRequest)
		return
	}

	events, err := h.events.ListByStatus(r.Context(), status)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to list events")
		respondError(w, "Failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}

	respondJSON(w, http.StatusOK, events)
}

// ListActiveUsers handles GET /api/v1/users/active
func (h *OperatorHandler) ListActiveUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListActive(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list users")
		respondError(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []*models.User{}
	}

	respondJSON(w, http.StatusOK, users)
}

// UpdateUserRequest represents the request body for updating a user
type UpdateUserRequest struct {
	IsActive *bool `json:"is_active"`
}

// UpdateUser handles PATCH /api/v1/users/{user_id}
func (h *OperatorHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "user_id")

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.IsActive == nil {
		respondError(w, "is_active is required", http.StatusBadRequest)
		return
	}

	if err := h.users.SetActive(ctx, userID, *req.IsActive); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, "user not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update user")
		respondError(w, "Failed to update user", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("operator", middleware.GetOperator(ctx)).
		Str("user_id", userID).
		Bool("is_active", *req.IsActive).
		Msg("User updated")

	respondJSON(w, http.StatusOK, map[string]any{"id": userID, "is_active": *req.IsActive})
}
