package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"drink-check-bot/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	eventColumns = `id, user_id, challenge_code, gesture, created_at, deadline_minutes, next_reminder_at,
		reminder_count, status, photo_ref, photo_url, validation_result, reason, responded_at, version`

	pendingIndexName = "events_one_pending_per_user"
	userForeignKey   = "events_user_id_fkey"
	uniqueViolation  = "23505"
	fkViolation      = "23503"
)

// EventRepository handles database operations for challenge events
type EventRepository struct {
	db DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new pending event
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (id, user_id, challenge_code, gesture, created_at, deadline_minutes,
			next_reminder_at, reminder_count, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
	`
	_, err := r.db.Exec(ctx, query,
		event.ID, event.UserID, event.ChallengeCode, event.Gesture, event.CreatedAt,
		event.DeadlineMinutes, event.NextReminderAt, event.ReminderCount, event.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == uniqueViolation && pgErr.ConstraintName == pendingIndexName:
				return models.ErrPendingEventExists
			case pgErr.Code == fkViolation && pgErr.ConstraintName == userForeignKey:
				return models.ErrUnknownUser
			}
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	event.Version = 1
	return nil
}

// GetPendingByUser returns the most recent pending event of a user
func (r *EventRepository) GetPendingByUser(ctx context.Context, userID string) (*models.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	event, err := scanEvent(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending event: %w", err)
	}
	return event, nil
}

// ListByStatus returns every event in the given status, oldest first
func (r *EventRepository) ListByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE status = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// Update applies patch to a pending event read at version and returns the new version.
// It fails with models.ErrEventConflict when the row moved on or is no longer pending.
func (r *EventRepository) Update(ctx context.Context, id string, version int64, patch models.EventPatch) (int64, error) {
	query, args, err := buildEventUpdate(id, version, patch)
	if err != nil {
		return 0, err
	}

	var next int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrEventConflict
		}
		return 0, fmt.Errorf("failed to update event: %w", err)
	}
	return next, nil
}

func buildEventUpdate(id string, version int64, patch models.EventPatch) (string, []any, error) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.NextReminderAt != nil {
		add("next_reminder_at", *patch.NextReminderAt)
	}
	if patch.ReminderCount != nil {
		add("reminder_count", *patch.ReminderCount)
	}
	if patch.PhotoRef != nil {
		add("photo_ref", *patch.PhotoRef)
	}
	if patch.PhotoURL != nil {
		add("photo_url", *patch.PhotoURL)
	}
	if patch.ValidationResult != nil {
		data, err := json.Marshal(patch.ValidationResult)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal validation result: %w", err)
		}
		add("validation_result", data)
	}
	if patch.Reason != nil {
		add("reason", *patch.Reason)
	}
	if patch.RespondedAt != nil {
		add("responded_at", *patch.RespondedAt)
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("empty event patch")
	}

	args = append(args, id, version)
	query := fmt.Sprintf(
		"UPDATE events SET %s, version = version + 1 WHERE id = $%d AND version = $%d AND status = 'pending' RETURNING version",
		strings.Join(sets, ", "), len(args)-1, len(args),
	)
	return query, args, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var event models.Event
	var status string
	var validation []byte
	err := row.Scan(
		&event.ID, &event.UserID, &event.ChallengeCode, &event.Gesture, &event.CreatedAt,
		&event.DeadlineMinutes, &event.NextReminderAt, &event.ReminderCount, &status,
		&event.PhotoRef, &event.PhotoURL, &validation, &event.Reason, &event.RespondedAt, &event.Version,
	)
	if err != nil {
		return nil, err
	}
	event.Status = models.EventStatus(status)
	if len(validation) > 0 {
		var result models.ValidationResult
		if err := json.Unmarshal(validation, &result); err != nil {
			return nil, fmt.Errorf("failed to decode validation result: %w", err)
		}
		event.ValidationResult = &result
	}
	return &event, nil
}
