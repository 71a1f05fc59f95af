package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"drink-check-bot/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeEventStore mirrors the repository: one pending event per user, versioned updates on pending rows.
type fakeEventStore struct {
	mu     sync.Mutex
	events map[string]*models.Event

	createErr  map[string]error
	pendingErr error
	updateErr  error
	listErr    error
	updates    int
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: map[string]*models.Event{}, createErr: map[string]error{}}
}

func cloneEvent(e *models.Event) *models.Event {
	c := *e
	if e.ValidationResult != nil {
		v := *e.ValidationResult
		c.ValidationResult = &v
	}
	return &c
}

func (s *fakeEventStore) Create(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[event.UserID]; err != nil {
		return err
	}
	for _, e := range s.events {
		if e.UserID == event.UserID && e.Status == models.StatusPending {
			return models.ErrPendingEventExists
		}
	}
	event.Version = 1
	s.events[event.ID] = cloneEvent(event)
	return nil
}

func (s *fakeEventStore) GetPendingByUser(ctx context.Context, userID string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	var latest *models.Event
	for _, e := range s.events {
		if e.UserID == userID && e.Status == models.StatusPending {
			if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
				latest = e
			}
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return cloneEvent(latest), nil
}

func (s *fakeEventStore) Update(ctx context.Context, id string, version int64, patch models.EventPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	e, ok := s.events[id]
	if !ok || e.Version != version || e.Status != models.StatusPending {
		return 0, models.ErrEventConflict
	}
	patch.Apply(e)
	e.Version++
	s.updates++
	return e.Version, nil
}

func (s *fakeEventStore) ListByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Event
	for _, e := range s.events {
		if e.Status == status {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeEventStore) get(id string) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEvent(s.events[id])
}

func (s *fakeEventStore) put(e *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Version == 0 {
		e.Version = 1
	}
	s.events[e.ID] = cloneEvent(e)
}

func (s *fakeEventStore) forUser(userID string) []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

type fakeUserStore struct {
	users     map[string]*models.User
	listErr   error
	upsertErr error
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{users: map[string]*models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) Upsert(ctx context.Context, user *models.User) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *fakeUserStore) ListActive(ctx context.Context) ([]*models.User, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.User
	for _, u := range s.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeUserStore) SetActive(ctx context.Context, id string, active bool) error {
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.IsActive = active
	return nil
}

type fakeHashStore struct {
	hashes    map[string]string
	existsErr error
	recordErr error
}

func newFakeHashStore() *fakeHashStore { return &fakeHashStore{hashes: map[string]string{}} }

func (s *fakeHashStore) Exists(ctx context.Context, hash string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.hashes[hash]
	return ok, nil
}

func (s *fakeHashStore) Record(ctx context.Context, fp *models.PhotoFingerprint) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	if _, ok := s.hashes[fp.ContentHash]; !ok {
		s.hashes[fp.ContentHash] = fp.StorageRef
	}
	return nil
}

type fakeMessenger struct {
	mu        sync.Mutex
	sent      map[string][]string
	admin     []string
	media     map[string][]byte
	fetchErr  error
	failUsers map[string]bool
	refuse    map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		sent:      map[string][]string{},
		media:     map[string][]byte{},
		failUsers: map[string]bool{},
		refuse:    map[string]bool{},
	}
}

func (m *fakeMessenger) SendText(ctx context.Context, userID, html string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUsers[userID] {
		return false, errors.New("network down")
	}
	if m.refuse[userID] {
		return false, nil
	}
	m.sent[userID] = append(m.sent[userID], html)
	return true, nil
}

func (m *fakeMessenger) SendAdminNotice(ctx context.Context, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admin = append(m.admin, html)
	return nil
}

func (m *fakeMessenger) FetchMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	if m.fetchErr != nil {
		return nil, &DownloadError{Ref: mediaRef, Err: m.fetchErr}
	}
	data, ok := m.media[mediaRef]
	if !ok {
		return nil, &DownloadError{Ref: mediaRef, Err: errors.New("unknown file")}
	}
	return data, nil
}

func (m *fakeMessenger) messages(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent[userID]...)
}

func (m *fakeMessenger) last(userID string) string {
	msgs := m.messages(userID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type fakeStorage struct {
	stored map[string][]byte
	err    error
}

func newFakeStorage() *fakeStorage { return &fakeStorage{stored: map[string][]byte{}} }

func (s *fakeStorage) Store(ctx context.Context, data []byte, name, mimeType string) (*StoredPhoto, error) {
	if s.err != nil {
		return nil, &StorageError{Name: name, Err: s.err}
	}
	s.stored[name] = data
	return &StoredPhoto{Ref: "photos/" + name, PublicURL: "https://cdn.test/photos/" + name}, nil
}

type fakeClassifier struct {
	result *models.ValidationResult
	err    error
	calls  int
}

func (c *fakeClassifier) Classify(ctx context.Context, data []byte, gesture string) (*models.ValidationResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	r := *c.result
	return &r, nil
}

type fakePublisher struct {
	subjects []string
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data any) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

type fakeFeed struct {
	notices []EventNotice
}

func (f *fakeFeed) Broadcast(notice EventNotice) { f.notices = append(f.notices, notice) }

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) { return nil, ErrLockBusy }

func compliantResult() *models.ValidationResult {
	return &models.ValidationResult{
		HasBottle:    true,
		HasFace:      true,
		IsDrinking:   true,
		GestureMatch: true,
		IsRealPhoto:  true,
		IsSafe:       true,
		Confidence:   95,
	}
}
