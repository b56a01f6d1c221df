package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/middleware"
	"go-social/internal/notification"
	"go-social/internal/testutil"
)

type stubPresence map[int]bool

func (p stubPresence) IsOnline(id int) bool { return p[id] }
func (p stubPresence) OnlineUsers() []int {
	out := []int{}
	for id, ok := range p {
		if ok {
			out = append(out, id)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	notifier *notification.Service
	mr       *miniredis.Miniredis
	clock    *testutil.StubClock
}

func newFixture(t *testing.T, presence Presence) *fixture {
	t.Helper()
	models := append(Models(), notification.Models()...)
	db := testutil.NewDB(t, models...)
	c, mr := testutil.NewCache(t)
	inv := cache.NewInvalidator(c)
	clock := testutil.FixedClock()

	notifier := notification.NewService(notification.NewRepository(db), c, inv, nil, notification.Config{Clock: clock.Now})
	svc := NewService(NewRepository(db), c, inv, notifier, presence, Config{
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		ProfileTTL: time.Minute,
		BcryptCost: bcrypt.MinCost,
		Clock:      clock.Now,
	})
	return &fixture{svc: svc, notifier: notifier, mr: mr, clock: clock}
}

func (f *fixture) register(t *testing.T, name string) int {
	t.Helper()
	res, err := f.svc.Register(context.Background(), &RegisterRequest{Username: name, Password: "secret1"})
	require.NoError(t, err)
	return res.ID
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id := f.register(t, "alice")

	_, err := f.svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.Register(ctx, &RegisterRequest{Username: "a!", Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Login(ctx, &RegisterRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, &RegisterRequest{Username: "nobody", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := f.svc.Login(ctx, &RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)

	gotID, gotName, err := f.svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "alice", gotName)

	_, _, err = f.svc.ValidateToken(res.AccessToken + "x")
	assert.Error(t, err)
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "Alice")
	f.register(t, "alicia")
	f.register(t, "bob")

	users, err := f.svc.SearchUsers(context.Background(), "ALI")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = f.svc.SearchUsers(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFollowNotifiesOnceAndClearsProfiles(t *testing.T) {
	f := newFixture(t, stubPresence{})
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	p, err := f.svc.GetProfile(ctx, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 0, p.Followers)
	assert.True(t, f.mr.Exists(cache.UserStats.Key(bob)))

	require.NoError(t, f.svc.Follow(ctx, alice, bob))
	assert.False(t, f.mr.Exists(cache.UserStats.Key(bob)))

	p, err = f.svc.GetProfile(ctx, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Followers)

	assert.ErrorIs(t, f.svc.Follow(ctx, alice, bob), apperr.ErrConflict)
	assert.ErrorIs(t, f.svc.Follow(ctx, alice, alice), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.Follow(ctx, alice, 999), apperr.ErrNotFound)

	require.NoError(t, f.svc.Unfollow(ctx, alice, bob))
	assert.ErrorIs(t, f.svc.Unfollow(ctx, alice, bob), apperr.ErrNotFound)
	require.NoError(t, f.svc.Follow(ctx, alice, bob))

	items, err := f.notifier.List(ctx, bob, 1, 20)
	require.NoError(t, err)
	require.Len(t, items, 1, "re-following inside the window does not notify again")
	assert.Equal(t, notification.TypeFollow, items[0].Type)
	assert.Equal(t, alice, items[0].ActorID)

	followers, err := f.svc.Followers(ctx, bob, 1, 20)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].Username)

	following, err := f.svc.Following(ctx, alice, 1, 20)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, bob, following[0].ID)
}

func TestProfileOnlineAndUpdate(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "alice")
	f.svc.presence = stubPresence{alice: true}
	ctx := context.Background()

	p, err := f.svc.GetProfile(ctx, alice)
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.Equal(t, "alice", p.DisplayName)

	bio := "hello"
	p, err = f.svc.UpdateProfile(ctx, alice, &UpdateProfileRequest{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Bio, "the cached profile was cleared by the update")

	_, err = f.svc.UpdateProfile(ctx, alice, &UpdateProfileRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.GetProfile(ctx, 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHandlerRegisterLogin(t *testing.T) {
	f := newFixture(t, nil)
	h := NewHandler(f.svc)
	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	body, _ := json.Marshal(RegisterRequest{Username: "carol", Password: "secret1"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad, _ := json.Marshal(RegisterRequest{Username: "carol", Password: "nope"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(bad)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var res LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.AccessToken)
}

func TestHandlerFollowSelf(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "alice")
	h := NewHandler(f.svc)
	r := chi.NewRouter()
	r.Post("/api/follows/{userId}", h.Follow)

	req := httptest.NewRequest(http.MethodPost, "/api/follows/1", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), alice, "alice"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
