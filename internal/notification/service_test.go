package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/middleware"
	"go-social/internal/testutil"
)

type delivery struct {
	userID  int
	event   string
	payload any
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []delivery
}

func (d *recordingDeliverer) Deliver(userID int, event string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, delivery{userID, event, payload})
}

func (d *recordingDeliverer) events() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.sent...)
}

type fixture struct {
	svc   *Service
	repo  *Repository
	clock *testutil.StubClock
	mr    *miniredis.Miniredis
	out   *recordingDeliverer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t, Models()...)
	c, mr := testutil.NewCache(t)
	clock := testutil.FixedClock()
	out := &recordingDeliverer{}
	repo := NewRepository(db)
	svc := NewService(repo, c, cache.NewInvalidator(c), out, Config{
		DedupWindow: 24 * time.Hour,
		ListTTL:     time.Minute,
		CounterTTL:  time.Minute,
		Clock:       clock.Now,
	})
	return &fixture{svc: svc, repo: repo, clock: clock, mr: mr, out: out}
}

func intPtr(v int) *int { return &v }

func (f *fixture) count(t *testing.T, recipient int) int {
	t.Helper()
	items, err := f.repo.List(context.Background(), recipient, 100, 0)
	require.NoError(t, err)
	return len(items)
}

func TestLikeDedupWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	like := Candidate{RecipientID: 1, ActorID: 2, Type: TypeLike, PostID: intPtr(10)}

	outcome, n, err := f.svc.Notify(ctx, like)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	require.NotNil(t, n)
	assert.False(t, n.IsRead)

	f.clock.Advance(time.Hour)
	outcome, _, err = f.svc.Notify(ctx, like)
	require.NoError(t, err)
	assert.Equal(t, SuppressedDuplicate, outcome)
	assert.Equal(t, 1, f.count(t, 1))

	f.clock.Advance(24 * time.Hour)
	outcome, _, err = f.svc.Notify(ctx, like)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.Equal(t, 2, f.count(t, 1))
}

func TestDedupTupleDistinguishesTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Notify(ctx, Candidate{RecipientID: 1, ActorID: 2, Type: TypeLike, PostID: intPtr(10)})
	require.NoError(t, err)

	outcome, _, err := f.svc.Notify(ctx, Candidate{RecipientID: 1, ActorID: 2, Type: TypeLike, PostID: intPtr(11)})
	require.NoError(t, err)
	assert.Equal(t, Created, outcome, "another post is another event")

	outcome, _, err = f.svc.Notify(ctx, Candidate{RecipientID: 1, ActorID: 3, Type: TypeLike, PostID: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, Created, outcome, "another actor is another event")
}

func TestFollowDeduped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	follow := Candidate{RecipientID: 1, ActorID: 2, Type: TypeFollow}

	first, _, err := f.svc.Notify(ctx, follow)
	require.NoError(t, err)
	second, _, err := f.svc.Notify(ctx, follow)
	require.NoError(t, err)

	assert.Equal(t, Created, first)
	assert.Equal(t, SuppressedDuplicate, second)
}

func TestUnwindowedTypesAlwaysNotify(t *testing.T) {
	for _, typ := range []Type{TypeComment, TypeReply, TypeMention, TypeMessage} {
		f := newFixture(t)
		c := Candidate{RecipientID: 1, ActorID: 2, Type: typ, PostID: intPtr(10), CommentID: intPtr(4)}
		for i := 0; i < 3; i++ {
			outcome, _, err := f.svc.Notify(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, Created, outcome, typ)
		}
		assert.Equal(t, 3, f.count(t, 1), typ)
	}
}

func TestSelfActionNeverNotifies(t *testing.T) {
	f := newFixture(t)
	for _, typ := range []Type{TypeLike, TypeComment, TypeReply, TypeFollow, TypeMessage, TypeMention} {
		outcome, n, err := f.svc.Notify(context.Background(), Candidate{RecipientID: 5, ActorID: 5, Type: typ, PostID: intPtr(1)})
		require.NoError(t, err)
		assert.Equal(t, SuppressedSelf, outcome, typ)
		assert.Nil(t, n)
	}
	assert.Equal(t, 0, f.count(t, 5))
	assert.Empty(t, f.out.events())
}

func TestNotifyDeliversAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mr.Set(cache.Notifications.Page(1, 1, 20), "[]")
	f.mr.Set(cache.UnreadNotifications.Key(1), "0")

	_, n, err := f.svc.Notify(ctx, Candidate{RecipientID: 1, ActorID: 2, Type: TypeMessage, Preview: "hi"})
	require.NoError(t, err)

	events := f.out.events()
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].userID)
	assert.Equal(t, EventNew, events[0].event)
	assert.Equal(t, n, events[0].payload)

	assert.False(t, f.mr.Exists(cache.Notifications.Page(1, 1, 20)))
	assert.False(t, f.mr.Exists(cache.UnreadNotifications.Key(1)))
}

func TestNotifyRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Notify(context.Background(), Candidate{RecipientID: 1, ActorID: 2, Type: "poke"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNotifySurvivesCacheOutage(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	outcome, _, err := f.svc.Notify(context.Background(), Candidate{RecipientID: 1, ActorID: 2, Type: TypeLike, PostID: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
}

func TestReadAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, a, err := f.svc.Notify(ctx, Candidate{RecipientID: 1, ActorID: 2, Type: TypeComment, PostID: intPtr(1)})
	require.NoError(t, err)
	_, _, err = f.svc.Notify(ctx, Candidate{RecipientID: 1, ActorID: 3, Type: TypeComment, PostID: intPtr(1)})
	require.NoError(t, err)

	unread, err := f.svc.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	require.NoError(t, f.svc.MarkRead(ctx, 1, a.ID))
	unread, err = f.svc.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread, "the cached counter was cleared by MarkRead")

	assert.ErrorIs(t, f.svc.MarkRead(ctx, 2, a.ID), apperr.ErrNotFound, "only the recipient can read it")

	n, err := f.svc.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, f.svc.Delete(ctx, 1, a.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, 1, a.ID), apperr.ErrNotFound)

	n, err = f.svc.DeleteAll(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	items, err := f.svc.List(ctx, 1, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHandlerMarkReadNotFound(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	r := chi.NewRouter()
	r.Post("/api/notifications/{id}/read", h.MarkRead)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/99/read", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), 1, "alice"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
