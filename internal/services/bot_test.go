package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"drink-check-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botHarness struct {
	clock     *fakeClock
	users     *fakeUserStore
	events    *fakeEventStore
	messenger *fakeMessenger
	bot       *Bot
}

func newBotHarness(t *testing.T) *botHarness {
	t.Helper()
	h := &botHarness{
		clock:     newFakeClock(t0),
		users:     newFakeUserStore(),
		events:    newFakeEventStore(),
		messenger: newFakeMessenger(),
	}
	relay := NewNotificationRelay(h.messenger, nil, nil, h.clock.Now)
	scheduler := NewChallengeScheduler(h.users, h.events, relay, nil, SchedulerConfig{
		DeadlineMinutes:  20,
		ReminderInterval: 5 * time.Minute,
		Gestures:         []string{"peace sign"},
	}, h.clock.Now)
	scheduler.newCode = func() string { return "4821" }

	hashes := newFakeHashStore()
	engine := NewVerificationEngine(h.events, NewHashLedger(hashes, h.clock.Now), h.messenger,
		newFakeStorage(), &fakeClassifier{result: compliantResult()}, relay, nil, h.clock.Now)

	h.bot = NewBot(h.users, h.events, scheduler, engine, relay, h.clock.Now)
	return h
}

func TestBot_Start(t *testing.T) {
	h := newBotHarness(t)

	err := h.bot.HandleMessage(context.Background(), InboundMessage{UserID: "100", DisplayName: "Alex", Text: "/start"})
	require.NoError(t, err)

	user := h.users.users["100"]
	require.NotNil(t, user)
	assert.True(t, user.IsActive)
	assert.Equal(t, "Alex", user.DisplayName)
	assert.Contains(t, h.messenger.last("100"), "Hi Alex")
	require.Len(t, h.messenger.admin, 1)
	assert.Contains(t, h.messenger.admin[0], "New user: Alex (100)")
}

func TestBot_StartReactivatesWithDefaultName(t *testing.T) {
	h := newBotHarness(t)
	h.users.users["100"] = &models.User{ID: "100", DisplayName: "Old", IsActive: false}

	require.NoError(t, h.bot.HandleMessage(context.Background(), InboundMessage{UserID: "100", Text: " /start "}))

	assert.True(t, h.users.users["100"].IsActive)
	assert.Equal(t, "User", h.users.users["100"].DisplayName)
}

func TestBot_TestCommandIssuesOnce(t *testing.T) {
	h := newBotHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Text: "/test"}))
	require.Len(t, h.events.forUser("100"), 1)
	assert.Contains(t, h.messenger.last("100"), "Time to drink")

	h.clock.Advance(4 * time.Minute)
	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Text: "/test"}))
	assert.Len(t, h.events.forUser("100"), 1)
	assert.Contains(t, h.messenger.last("100"), "Time left: 16 minutes")
}

func TestBot_TextHints(t *testing.T) {
	h := newBotHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Text: "hello"}))
	assert.Equal(t, promptIdle, h.messenger.last("100"))

	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Text: "/test"}))
	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Text: "4821"}))
	assert.Equal(t, promptHint("4821"), h.messenger.last("100"))
}

func TestBot_UnsupportedMessage(t *testing.T) {
	h := newBotHarness(t)

	require.NoError(t, h.bot.HandleMessage(context.Background(), InboundMessage{UserID: "100"}))
	assert.Equal(t, promptUnsupported, h.messenger.last("100"))
}

func TestBot_PhotoIsVerified(t *testing.T) {
	h := newBotHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Text: "/test"}))
	h.messenger.media["file-1"] = []byte("photo")
	h.clock.Advance(2 * time.Minute)

	require.NoError(t, h.bot.HandleMessage(ctx, InboundMessage{UserID: "100", Caption: "code 4821", PhotoRef: "file-1"}))

	events := h.events.forUser("100")
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusValid, events[0].Status)
}

func TestBot_TestCommandBeforeStart(t *testing.T) {
	h := newBotHarness(t)
	h.events.createErr["999"] = fmt.Errorf("failed to create event: %w", models.ErrUnknownUser)

	err := h.bot.HandleMessage(context.Background(), InboundMessage{UserID: "999", Text: "/test"})

	require.NoError(t, err)
	assert.Equal(t, promptRegister, h.messenger.last("999"))
	assert.Empty(t, h.events.forUser("999"))
}

func TestBot_StoreFailuresReachTheUser(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		setup func(h *botHarness)
	}{
		{"test command create fails", "/test", func(h *botHarness) { h.events.createErr["100"] = errors.New("insert failed") }},
		{"test command lookup fails", "/test", func(h *botHarness) { h.events.pendingErr = errors.New("connection refused") }},
		{"text hint lookup fails", "hello", func(h *botHarness) { h.events.pendingErr = errors.New("connection refused") }},
		{"start upsert fails", "/start", func(h *botHarness) { h.users.upsertErr = errors.New("connection refused") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newBotHarness(t)
			tt.setup(h)

			err := h.bot.HandleMessage(context.Background(), InboundMessage{UserID: "100", Text: tt.text})

			require.Error(t, err)
			assert.Equal(t, []string{promptInternal}, h.messenger.messages("100"))
			require.Len(t, h.messenger.admin, 1)
			assert.Contains(t, h.messenger.admin[0], "Message handling error for user 100")
		})
	}
}
