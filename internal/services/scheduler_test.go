package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"drink-check-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerHarness struct {
	clock     *fakeClock
	users     *fakeUserStore
	events    *fakeEventStore
	messenger *fakeMessenger
	publisher *fakePublisher
	feed      *fakeFeed
	scheduler *ChallengeScheduler
}

func newSchedulerHarness(t *testing.T, users ...*models.User) *schedulerHarness {
	t.Helper()
	h := &schedulerHarness{
		clock:     newFakeClock(t0),
		users:     newFakeUserStore(users...),
		events:    newFakeEventStore(),
		messenger: newFakeMessenger(),
		publisher: &fakePublisher{},
		feed:      &fakeFeed{},
	}
	relay := NewNotificationRelay(h.messenger, h.publisher, h.feed, h.clock.Now)
	h.scheduler = NewChallengeScheduler(h.users, h.events, relay, nil, SchedulerConfig{
		DeadlineMinutes:  20,
		ReminderInterval: 5 * time.Minute,
		Gestures:         []string{"👍"},
	}, h.clock.Now)
	return h
}

func activeUser(id string) *models.User {
	return &models.User{ID: id, DisplayName: "user " + id, IsActive: true, CreatedAt: t0}
}

func TestIssueChallenges(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"), activeUser("2"),
		&models.User{ID: "3", DisplayName: "inactive", IsActive: false})

	issued, err := h.scheduler.IssueChallenges(context.Background())
	require.NoError(t, err)
	require.Len(t, issued, 2)

	codePattern := regexp.MustCompile(`^\d{4}$`)
	for _, ch := range issued {
		assert.Regexp(t, codePattern, ch.Code)
		assert.Equal(t, "👍", ch.Gesture)

		ev := h.events.get(ch.EventID)
		assert.Equal(t, models.StatusPending, ev.Status)
		assert.Equal(t, 20, ev.DeadlineMinutes)
		assert.Equal(t, t0, ev.CreatedAt)
		assert.Equal(t, t0, ev.NextReminderAt)
		assert.Zero(t, ev.ReminderCount)

		msg := h.messenger.last(ch.UserID)
		assert.Contains(t, msg, ch.Code)
		assert.Contains(t, msg, "👍")
	}
	assert.Empty(t, h.events.forUser("3"))
	assert.Equal(t, []string{SubjectChallengeIssued, SubjectChallengeIssued}, h.publisher.subjects)
	assert.Len(t, h.feed.notices, 2)
}

func TestIssueChallenges_SkipsUsersWithPendingEvent(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))

	first, err := h.scheduler.IssueChallenges(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	h.clock.Advance(time.Minute)
	second, err := h.scheduler.IssueChallenges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, h.events.forUser("1"), 1)
	assert.Len(t, h.messenger.messages("1"), 1)
}

func TestIssueChallenges_IsolatesUserFailures(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"), activeUser("2"), activeUser("3"))
	h.events.createErr["1"] = errors.New("insert failed")
	h.messenger.failUsers["2"] = true

	issued, err := h.scheduler.IssueChallenges(context.Background())
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, "3", issued[0].UserID)

	assert.Empty(t, h.events.forUser("1"))
	// the event exists even though delivery failed; the sweep reminds it later
	require.Len(t, h.events.forUser("2"), 1)
	assert.Equal(t, models.StatusPending, h.events.forUser("2")[0].Status)
}

func TestIssueChallenges_ListFailure(t *testing.T) {
	h := newSchedulerHarness(t)
	h.users.listErr = errors.New("db down")

	_, err := h.scheduler.IssueChallenges(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestIssueFor_RaceWithConcurrentCreate(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	h.events.put(&models.Event{ID: "existing", UserID: "1", ChallengeCode: "1111", CreatedAt: t0, DeadlineMinutes: 20, Status: models.StatusPending})

	ev, created, err := h.scheduler.IssueFor(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing", ev.ID)
}

func TestGenerateChallengeCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := generateChallengeCode()
		require.Regexp(t, `^[1-9]\d{3}$`, code)
	}
}

func (h *schedulerHarness) issue(t *testing.T, userID string) *models.Event {
	t.Helper()
	ev, created, err := h.scheduler.IssueFor(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, created)
	return ev
}

func TestSweepReminders_RemindsDueEvents(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	ev := h.issue(t, "1")

	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SweepAction{{EventID: ev.ID, UserID: "1", Action: ActionReminded}}, actions)

	stored := h.events.get(ev.ID)
	assert.Equal(t, 1, stored.ReminderCount)
	assert.Equal(t, t0.Add(5*time.Minute), stored.NextReminderAt)
	assert.Contains(t, h.messenger.last("1"), "Time left: 20 minutes")

	h.clock.Advance(5 * time.Minute)
	_, err = h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)

	stored = h.events.get(ev.ID)
	assert.Equal(t, 2, stored.ReminderCount)
	assert.Equal(t, t0.Add(10*time.Minute), stored.NextReminderAt)
	assert.Contains(t, h.messenger.last("1"), "Time left: 15 minutes")
}

func TestSweepReminders_IdempotentWithinWindow(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	ev := h.issue(t, "1")

	_, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)

	assert.Equal(t, 1, h.events.get(ev.ID).ReminderCount)
	// challenge + one reminder
	assert.Len(t, h.messenger.messages("1"), 2)
}

func TestSweepReminders_ExpiresOverdueEvents(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	ev := h.issue(t, "1")

	h.clock.Advance(21 * time.Minute)
	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SweepAction{{EventID: ev.ID, UserID: "1", Action: ActionExpired}}, actions)

	stored := h.events.get(ev.ID)
	assert.Equal(t, models.StatusExpired, stored.Status)
	assert.Equal(t, ReasonMissedDeadline, stored.Reason)
	assert.Nil(t, stored.RespondedAt)
	assert.Len(t, h.messenger.messages("1"), 1)
	assert.Contains(t, h.publisher.subjects, SubjectChallengeExpired)

	h.clock.Advance(time.Minute)
	actions, err = h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)

	// expired events free the user for the next round
	issued, err := h.scheduler.IssueChallenges(context.Background())
	require.NoError(t, err)
	assert.Len(t, issued, 1)
}

func TestSweepReminders_AtDeadlineStillReminds(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	ev := h.issue(t, "1")

	h.clock.Advance(20 * time.Minute)
	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionReminded, actions[0].Action)
	assert.Equal(t, models.StatusPending, h.events.get(ev.ID).Status)
	assert.Contains(t, h.messenger.last("1"), "Time left: 0 minutes")
}

func TestSweepReminders_ConflictSkipsEvent(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	ev := h.issue(t, "1")
	h.events.updateErr = models.ErrEventConflict

	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Zero(t, h.events.get(ev.ID).ReminderCount)
	assert.Len(t, h.messenger.messages("1"), 1)
}

func TestSweepReminders_BusyUserIsSkipped(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"))
	ev := h.issue(t, "1")
	h.scheduler.locker = busyLocker{}

	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Zero(t, h.events.get(ev.ID).ReminderCount)
}

func TestSweepReminders_DeliveryFailureIsIsolated(t *testing.T) {
	h := newSchedulerHarness(t, activeUser("1"), activeUser("2"))
	ev1 := h.issue(t, "1")
	ev2 := h.issue(t, "2")
	h.messenger.refuse["1"] = true

	actions, err := h.scheduler.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SweepAction{{EventID: ev2.ID, UserID: "2", Action: ActionReminded}}, actions)

	// the window is consumed even when delivery fails
	assert.Equal(t, 1, h.events.get(ev1.ID).ReminderCount)
}

func TestSweepReminders_ListFailure(t *testing.T) {
	h := newSchedulerHarness(t)
	h.events.listErr = errors.New("db down")

	_, err := h.scheduler.SweepReminders(context.Background())
	assert.ErrorContains(t, err, "db down")
}
