package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drink-check-bot/internal/models"
)

// EventStore persists challenge events
type EventStore interface {
	Create(ctx context.Context, event *models.Event) error
	GetPendingByUser(ctx context.Context, userID string) (*models.Event, error)
	Update(ctx context.Context, id string, version int64, patch models.EventPatch) (int64, error)
	ListByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error)
}

// UserStore persists registered users
type UserStore interface {
	Upsert(ctx context.Context, user *models.User) error
	ListActive(ctx context.Context) ([]*models.User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// HashStore persists photo fingerprints
type HashStore interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Record(ctx context.Context, fp *models.PhotoFingerprint) error
}

// Messenger is the chat transport
type Messenger interface {
	SendText(ctx context.Context, userID, html string) (bool, error)
	SendAdminNotice(ctx context.Context, html string) error
	FetchMedia(ctx context.Context, mediaRef string) ([]byte, error)
}

// StoredPhoto is the result of a blob upload
type StoredPhoto struct {
	Ref       string `json:"ref"`
	PublicURL string `json:"public_url"`
}

// PhotoStorage is the blob store for accepted photos
type PhotoStorage interface {
	Store(ctx context.Context, data []byte, name, mimeType string) (*StoredPhoto, error)
}

// Classifier inspects a photo for the expected gesture.
// Implementations bound their own call duration.
type Classifier interface {
	Classify(ctx context.Context, data []byte, expectedGesture string) (*models.ValidationResult, error)
}

// Locker serialises work on one key across processes
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

// Clock returns the current time
type Clock func() time.Time

// ErrLockBusy is returned when a lock could not be acquired in time
var ErrLockBusy = errors.New("lock is held by another worker")

// ErrNotDelivered is returned when the transport accepted no message
var ErrNotDelivered = errors.New("message not delivered")

// DownloadError wraps a failed media fetch
type DownloadError struct {
	Ref string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download media %s: %v", e.Ref, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// StorageError wraps a failed blob upload
type StorageError struct {
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store %s: %v", e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type noopLocker struct{}

// NoopLocker returns a Locker that never blocks
func NoopLocker() Locker { return noopLocker{} }

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type noopPublisher struct{}

// NoopPublisher returns a Publisher that drops every event
func NoopPublisher() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

func userLockKey(userID string) string {
	return "user:" + userID
}
