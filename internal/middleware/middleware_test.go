package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/tgbot/internal/config"
	"github.com/AlexKimmel/tgbot/internal/database/models"
	"github.com/AlexKimmel/tgbot/internal/database/repo"
	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/ratelimit"
	"github.com/AlexKimmel/tgbot/internal/ratelimit/memory"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

func message(chatID int64, text string) *dispatch.Event {
	return dispatch.NewEvent(tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID, FirstName: "Ann", LastName: "Lee", UserName: "ann", LanguageCode: "uk"},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}})
}

type counter struct{ calls int }

func (c *counter) Handle(context.Context, *dispatch.Event) error {
	c.calls++
	return nil
}

func newLimiter(t *testing.T) *memory.Limiter {
	t.Helper()
	lim := memory.New()
	require.NoError(t, lim.Register(ratelimit.Policy{Name: ratelimit.DefaultPolicy, Window: 2 * time.Second, Capacity: 100}))
	return lim
}

type failingLimiter struct{ err error }

func (f failingLimiter) Register(ratelimit.Policy) error { return nil }
func (f failingLimiter) Close() error                    { return nil }
func (f failingLimiter) Allow(context.Context, string, string, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, f.err
}

func TestRouteMatcher(t *testing.T) {
	rr := routing.New()
	rr.Add(&routing.Route{ID: "echo"})

	var got *routing.Route
	h := RouteMatcher(rr)(dispatch.HandlerFunc(func(ctx context.Context, _ *dispatch.Event) error {
		got, _ = routing.RouteFrom(ctx)
		return nil
	}))

	require.NoError(t, h.Handle(context.Background(), message(1, "hi")))
	require.NotNil(t, got)
	assert.Equal(t, "echo", got.ID)

	got = nil
	require.NoError(t, h.Handle(context.Background(), dispatch.NewEvent(tgbotapi.Update{})))
	assert.Nil(t, got)
}

func TestThrottle_FixedWindowPerChat(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var limited []string
	next := &counter{}
	h := throttle(newLimiter(t), false, func(p string) { limited = append(limited, p) }, nil,
		func() time.Time { return clock })(next)

	ctx := routing.WithRoute(context.Background(), &routing.Route{ID: "echo", RateLimit: &routing.RateLimit{Key: "echo"}})

	first, out := dispatch.WithOutcome(ctx)
	require.NoError(t, h.Handle(first, message(42, "a")))
	assert.Equal(t, dispatch.OutcomeOK, out.Value())

	second, out := dispatch.WithOutcome(ctx)
	require.NoError(t, h.Handle(second, message(42, "b")))
	assert.Equal(t, dispatch.OutcomeThrottled, out.Value())
	require.NoError(t, h.Handle(ctx, message(7, "c")))
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, []string{ratelimit.DefaultPolicy}, limited)

	clock = clock.Add(2100 * time.Millisecond)
	require.NoError(t, h.Handle(ctx, message(42, "d")))
	assert.Equal(t, 3, next.calls)
}

func TestThrottle_UnflaggedRouteNeverThrottled(t *testing.T) {
	next := &counter{}
	h := Throttle(newLimiter(t), false, nil, nil)(next)
	ctx := routing.WithRoute(context.Background(), &routing.Route{ID: "help"})

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Handle(ctx, message(42, "/help")))
	}
	assert.Equal(t, 5, next.calls)
}

func TestThrottle_LimiterError(t *testing.T) {
	ctx := routing.WithRoute(context.Background(), &routing.Route{ID: "start", RateLimit: &routing.RateLimit{}})
	lim := failingLimiter{err: ratelimit.ErrUnknownPolicy}

	for _, tc := range []struct {
		name     string
		failOpen bool
		calls    int
		outcome  string
	}{
		{"fail closed drops", false, 0, dispatch.OutcomeDropped},
		{"fail open admits", true, 1, dispatch.OutcomeOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var errs []string
			next := &counter{}
			h := Throttle(lim, tc.failOpen, nil, func(p string) { errs = append(errs, p) })(next)

			octx, out := dispatch.WithOutcome(ctx)
			require.NoError(t, h.Handle(octx, message(1, "/start")))
			assert.Equal(t, tc.calls, next.calls)
			assert.Equal(t, tc.outcome, out.Value())
			assert.Equal(t, []string{ratelimit.DefaultPolicy}, errs)
		})
	}
}

func TestConfig(t *testing.T) {
	cfg := &config.Root{}
	var got *config.Root
	h := Config(cfg)(dispatch.HandlerFunc(func(ctx context.Context, _ *dispatch.Event) error {
		got, _ = ConfigFrom(ctx)
		return nil
	}))

	require.NoError(t, h.Handle(context.Background(), message(1, "x")))
	assert.Same(t, cfg, got)

	_, ok := ConfigFrom(context.Background())
	assert.False(t, ok)
}

type fakeStore struct {
	got repo.UserParams
	err error
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, p repo.UserParams) (*models.User, error) {
	f.got = p
	if f.err != nil {
		return nil, f.err
	}
	return &models.User{UserID: p.UserID, FullName: p.FullName, Username: p.Username, Language: p.Language, Active: true}, nil
}

func TestUsers_Upserts(t *testing.T) {
	store := &fakeStore{}
	var user *models.User
	h := Users(store)(dispatch.HandlerFunc(func(ctx context.Context, _ *dispatch.Event) error {
		user, _ = UserFrom(ctx)
		return nil
	}))

	require.NoError(t, h.Handle(context.Background(), message(42, "hi")))

	assert.Equal(t, int64(42), store.got.UserID)
	assert.Equal(t, "Ann Lee", store.got.FullName)
	assert.Equal(t, "uk", store.got.Language)
	require.NotNil(t, store.got.Username)
	assert.Equal(t, "ann", *store.got.Username)
	require.NotNil(t, user)
	assert.Equal(t, int64(42), user.UserID)
}

func TestUsers_NoUsernameDefaultsLanguage(t *testing.T) {
	store := &fakeStore{}
	ev := dispatch.NewEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 5, FirstName: "Bob"},
		Chat: &tgbotapi.Chat{ID: 5},
	}})

	require.NoError(t, Users(store)(&counter{}).Handle(context.Background(), ev))
	assert.Nil(t, store.got.Username)
	assert.Equal(t, "Bob", store.got.FullName)
	assert.Equal(t, "en", store.got.Language)
}

func TestUsers_ErrorStopsPipeline(t *testing.T) {
	store := &fakeStore{err: repo.ErrUpsertUser}
	next := &counter{}

	err := Users(store)(next).Handle(context.Background(), message(1, "hi"))
	assert.ErrorIs(t, err, repo.ErrUpsertUser)
	assert.Zero(t, next.calls)
}

func TestUsers_NoSender(t *testing.T) {
	store := &fakeStore{}
	next := &counter{}

	require.NoError(t, Users(store)(next).Handle(context.Background(), dispatch.NewEvent(tgbotapi.Update{})))
	assert.Equal(t, 1, next.calls)
	assert.Zero(t, store.got.UserID)
}

func TestRecover(t *testing.T) {
	h := Recover()(dispatch.HandlerFunc(func(context.Context, *dispatch.Event) error {
		panic("boom")
	}))

	err := h.Handle(context.Background(), message(1, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	sentinel := errors.New("plain")
	h = Recover()(dispatch.HandlerFunc(func(context.Context, *dispatch.Event) error { return sentinel }))
	assert.ErrorIs(t, h.Handle(context.Background(), message(1, "x")), sentinel)
}
