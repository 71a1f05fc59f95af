package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by repositories when no row matches
	ErrNotFound = errors.New("not found")

	// ErrEventConflict is returned when an event changed (or left pending) since it was read
	ErrEventConflict = errors.New("event changed concurrently")

	// ErrPendingEventExists is returned when a user already has a pending event
	ErrPendingEventExists = errors.New("user already has a pending event")

	// ErrUnknownUser is returned when an event references a user that never registered
	ErrUnknownUser = errors.New("user is not registered")
)

// User represents a registered chat user
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventStatus is the lifecycle state of a challenge event
type EventStatus string

const (
	StatusPending EventStatus = "pending"
	StatusValid   EventStatus = "valid"
	StatusInvalid EventStatus = "invalid"
	StatusLate    EventStatus = "late"
	StatusExpired EventStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed
func (s EventStatus) IsTerminal() bool {
	return s != StatusPending
}

// Valid reports whether s is a known status
func (s EventStatus) Valid() bool {
	switch s {
	case StatusPending, StatusValid, StatusInvalid, StatusLate, StatusExpired:
		return true
	}
	return false
}

// Event is one challenge-and-response cycle for a user.
// Rows are never deleted; Version increments on every update.
type Event struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	ChallengeCode    string            `json:"challenge_code"`
	Gesture          string            `json:"gesture"`
	CreatedAt        time.Time         `json:"created_at"`
	DeadlineMinutes  int               `json:"deadline_minutes"`
	NextReminderAt   time.Time         `json:"next_reminder_at"`
	ReminderCount    int               `json:"reminder_count"`
	Status           EventStatus       `json:"status"`
	PhotoRef         string            `json:"photo_ref,omitempty"`
	PhotoURL         string            `json:"photo_url,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	RespondedAt      *time.Time        `json:"responded_at,omitempty"`
	Version          int64             `json:"version"`
}

// DeadlineAt returns createdAt + deadlineMinutes
func (e *Event) DeadlineAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.DeadlineMinutes) * time.Minute)
}

// IsPastDeadline reports now > deadlineAt
func (e *Event) IsPastDeadline(now time.Time) bool {
	return now.After(e.DeadlineAt())
}

// EventPatch lists the fields an update may change. Nil fields are left untouched.
type EventPatch struct {
	Status           *EventStatus
	NextReminderAt   *time.Time
	ReminderCount    *int
	PhotoRef         *string
	PhotoURL         *string
	ValidationResult *ValidationResult
	Reason           *string
	RespondedAt      *time.Time
}

// Apply copies the set fields of p onto e
func (p EventPatch) Apply(e *Event) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.NextReminderAt != nil {
		e.NextReminderAt = *p.NextReminderAt
	}
	if p.ReminderCount != nil {
		e.ReminderCount = *p.ReminderCount
	}
	if p.PhotoRef != nil {
		e.PhotoRef = *p.PhotoRef
	}
	if p.PhotoURL != nil {
		e.PhotoURL = *p.PhotoURL
	}
	if p.ValidationResult != nil {
		e.ValidationResult = p.ValidationResult
	}
	if p.Reason != nil {
		e.Reason = *p.Reason
	}
	if p.RespondedAt != nil {
		t := *p.RespondedAt
		e.RespondedAt = &t
	}
}

// PhotoFingerprint ties the digest of an accepted photo to its stored blob
type PhotoFingerprint struct {
	ContentHash string    `json:"content_hash"`
	StorageRef  string    `json:"storage_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidationResult is the classifier output attached to an event.
// A non-empty Error marks an inconclusive classification.
type ValidationResult struct {
	HasBottle    bool    `json:"hasBottle"`
	HasFace      bool    `json:"hasFace"`
	IsDrinking   bool    `json:"isDrinking"`
	GestureMatch bool    `json:"gestureMatch"`
	IsRealPhoto  bool    `json:"isRealPhoto"`
	IsSafe       bool    `json:"isSafe"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Inconclusive reports whether the result must be ignored by the verdict
func (v *ValidationResult) Inconclusive() bool {
	return v == nil || v.Error != ""
}
