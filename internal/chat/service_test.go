package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/config"
	"go-social/internal/middleware"
	"go-social/internal/notification"
	"go-social/internal/testutil"
)

type knownUsers map[int]bool

func (k knownUsers) Exists(_ context.Context, id int) (bool, error) {
	return k[id], nil
}

type fixture struct {
	repo    *Repository
	hub     *Hub
	service *Service
	gateway *Gateway
	clock   *testutil.StubClock
}

func newFixture(t *testing.T, messagesPerMinute int64) *fixture {
	t.Helper()
	db := testutil.NewDB(t, append(Models(), notification.Models()...)...)
	c, _ := testutil.NewCache(t)
	clock := testutil.FixedClock()
	inv := cache.NewInvalidator(c)
	hub := startHub(t)

	notes := notification.NewService(notification.NewRepository(db), c, inv, hub, notification.Config{
		ListTTL:    time.Minute,
		CounterTTL: time.Minute,
		Clock:      clock.Now,
	})
	rate := cache.NewRateCounter(c, cache.MessageRate, messagesPerMinute, time.Minute, clock.Now)
	repo := NewRepository(db)
	svc := NewService(repo, c, inv, hub, notes, knownUsers{1: true, 2: true, 3: true}, rate, ServiceConfig{
		ConversationTTL: time.Minute,
		CounterTTL:      time.Minute,
		Clock:           clock.Now,
	})
	return &fixture{repo: repo, hub: hub, service: svc, gateway: NewGateway(hub, svc), clock: clock}
}

func (f *fixture) handle(c *Client, raw string) {
	f.gateway.Handle(context.Background(), c, []byte(raw))
}

// ack runs one frame through the gateway and returns its acknowledgement.
func (f *fixture) ack(t *testing.T, c *Client, raw string) frame {
	t.Helper()
	f.handle(c, raw)
	for _, fr := range drain(f.hub, c) {
		if fr.Event == EventAck {
			return fr
		}
	}
	t.Fatalf("no ack for %s", raw)
	return frame{}
}

func eventsNamed(frames []frame, event string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func TestSendPushesMessageThenNotification(t *testing.T) {
	f := newFixture(t, 0)
	a := connect(f.hub, 1)
	b := connect(f.hub, 2)
	drain(f.hub, a)
	drain(f.hub, b)

	ack := f.ack(t, a, `{"event":"message:send","ack_id":"m1","data":{"recipientId":2,"content":"hello"}}`)
	assert.Equal(t, "m1", ack.AckID)
	require.Nil(t, ack.Error)
	var sent Message
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.NotZero(t, sent.ID)
	assert.False(t, sent.IsRead)
	assert.Equal(t, f.clock.Now(), sent.CreatedAt)

	frames := drain(f.hub, b)
	require.Len(t, frames, 2)
	assert.Equal(t, EventMessageReceived, frames[0].Event)
	var got Message
	require.NoError(t, json.Unmarshal(frames[0].Data, &got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello", got.Content)

	assert.Equal(t, notification.EventNew, frames[1].Event)
	var n notification.Notification
	require.NoError(t, json.Unmarshal(frames[1].Data, &n))
	assert.Equal(t, notification.TypeMessage, n.Type)
	assert.Equal(t, 1, n.ActorID)
	assert.Equal(t, "hello", n.Preview)
}

func TestOfflineRecipientStillGetsDurableCopy(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	m, err := f.service.Send(ctx, 1, SendRequest{RecipientID: 2, Content: "while you were out"})
	require.NoError(t, err)

	history, err := f.service.History(ctx, 2, 1, 1, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, m.ID, history[0].ID)
	assert.False(t, history[0].IsRead)
}

func TestConversationReadRoundTrip(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	a := connect(f.hub, 1)

	for _, text := range []string{"one", "two"} {
		_, err := f.service.Send(ctx, 1, SendRequest{RecipientID: 2, Content: text})
		require.NoError(t, err)
	}

	history, err := f.service.History(ctx, 2, 1, 1, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, m := range history {
		assert.False(t, m.IsRead)
	}
	unread, err := f.service.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	b := connect(f.hub, 2)
	drain(f.hub, a)
	drain(f.hub, b)

	ack := f.ack(t, b, `{"event":"conversation:read","ack_id":"r1","data":{"senderId":1}}`)
	require.Nil(t, ack.Error)
	var res conversationReadEvent
	require.NoError(t, json.Unmarshal(ack.Data, &res))
	assert.Equal(t, conversationReadEvent{ReadBy: 2, Count: 2}, res)

	reads := eventsNamed(drain(f.hub, a), EventConversationRead)
	require.Len(t, reads, 1)
	var ev conversationReadEvent
	require.NoError(t, json.Unmarshal(reads[0].Data, &ev))
	assert.Equal(t, conversationReadEvent{ReadBy: 2, Count: 2}, ev)

	history, err = f.service.History(ctx, 2, 1, 1, 50)
	require.NoError(t, err)
	for _, m := range history {
		assert.True(t, m.IsRead, "cached history must be refreshed")
		require.NotNil(t, m.ReadAt)
	}
	unread, err = f.service.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, unread)

	// Nothing left to read: the ack reports zero and the sender hears nothing.
	ack = f.ack(t, b, `{"event":"conversation:read","ack_id":"r2","data":{"senderId":1}}`)
	require.NoError(t, json.Unmarshal(ack.Data, &res))
	assert.Zero(t, res.Count)
	assert.Empty(t, eventsNamed(drain(f.hub, a), EventConversationRead))
}

func TestMessageReadNotifiesSender(t *testing.T) {
	f := newFixture(t, 0)
	a := connect(f.hub, 1)
	b := connect(f.hub, 2)

	m, err := f.service.Send(context.Background(), 1, SendRequest{RecipientID: 2, Content: "hi"})
	require.NoError(t, err)
	drain(f.hub, a)
	drain(f.hub, b)

	ack := f.ack(t, a, fmt.Sprintf(`{"event":"message:read","ack_id":"x","data":{"messageId":%d}}`, m.ID))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "forbidden", ack.Error.Code)

	ack = f.ack(t, b, fmt.Sprintf(`{"event":"message:read","ack_id":"y","data":{"messageId":%d,"senderId":3}}`, m.ID))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "not_found", ack.Error.Code)

	ack = f.ack(t, b, fmt.Sprintf(`{"event":"message:read","ack_id":"z","data":{"messageId":%d,"senderId":1}}`, m.ID))
	require.Nil(t, ack.Error)
	var read Message
	require.NoError(t, json.Unmarshal(ack.Data, &read))
	assert.True(t, read.IsRead)

	reads := eventsNamed(drain(f.hub, a), EventMessageRead)
	require.Len(t, reads, 1)
	var ev messageReadEvent
	require.NoError(t, json.Unmarshal(reads[0].Data, &ev))
	assert.Equal(t, m.ID, ev.MessageID)
	assert.Equal(t, 2, ev.ReadBy)
	assert.Equal(t, f.clock.Now(), ev.ReadAt)

	// A second read is a no-op and does not repeat the receipt.
	f.ack(t, b, fmt.Sprintf(`{"event":"message:read","ack_id":"again","data":{"messageId":%d}}`, m.ID))
	assert.Empty(t, eventsNamed(drain(f.hub, a), EventMessageRead))
}

func TestMarkReadHasOneWinner(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	m, err := f.service.Send(ctx, 1, SendRequest{RecipientID: 2, Content: "hi"})
	require.NoError(t, err)

	first, err := f.repo.MarkRead(ctx, m.ID, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, first)

	second, err := f.repo.MarkRead(ctx, m.ID, f.clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.False(t, second, "an already-read message is not updated again")

	got, err := f.repo.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	assert.True(t, f.clock.Now().Equal(*got.ReadAt), "the first read time is kept")
}

func TestGatewayRejectsBadFrames(t *testing.T) {
	f := newFixture(t, 0)
	a := connect(f.hub, 1)
	drain(f.hub, a)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"unknown event", `{"event":"message:explode","ack_id":"1"}`, "validation_error"},
		{"missing data", `{"event":"message:send","ack_id":"2"}`, "validation_error"},
		{"bad data", `{"event":"message:send","ack_id":"3","data":"nope"}`, "validation_error"},
		{"empty message", `{"event":"message:send","ack_id":"4","data":{"recipientId":2,"content":"  "}}`, "validation_error"},
		{"message to self", `{"event":"message:send","ack_id":"5","data":{"recipientId":1,"content":"me"}}`, "validation_error"},
		{"unknown recipient", `{"event":"message:send","ack_id":"6","data":{"recipientId":99,"content":"hi"}}`, "not_found"},
		{"typing to self", `{"event":"typing:start","ack_id":"7","data":{"recipientId":1}}`, "validation_error"},
		{"read without id", `{"event":"message:read","ack_id":"8","data":{}}`, "validation_error"},
		{"read own conversation", `{"event":"conversation:read","ack_id":"9","data":{"senderId":1}}`, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := f.ack(t, a, tt.raw)
			require.NotNil(t, ack.Error)
			assert.Equal(t, tt.code, ack.Error.Code)
			assert.NotEmpty(t, ack.Error.Message)
			assert.Empty(t, ack.Data)
		})
	}
}

func TestGatewaySkipsAckWithoutID(t *testing.T) {
	f := newFixture(t, 0)
	a := connect(f.hub, 1)
	drain(f.hub, a)

	f.handle(a, `{"event":"message:explode"}`)
	f.handle(a, `not json`)
	assert.Empty(t, drain(f.hub, a))
}

func TestGatewayLimitsEventRate(t *testing.T) {
	f := newFixture(t, 0)
	a := NewClient(f.hub, nil, 1, "", config.RealtimeConfig{SendBuffer: 64, EventRate: 0.001, EventBurst: 2})
	f.hub.Register(a)
	drain(f.hub, a)

	for i := 0; i < 2; i++ {
		ack := f.ack(t, a, `{"event":"typing:start","ack_id":"ok","data":{"recipientId":2}}`)
		assert.Nil(t, ack.Error)
	}
	ack := f.ack(t, a, `{"event":"typing:start","ack_id":"slow","data":{"recipientId":2}}`)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "rate_limited", ack.Error.Code)
}

func TestTypingOverGateway(t *testing.T) {
	f := newFixture(t, 0)
	a := connect(f.hub, 1)
	b := connect(f.hub, 2)
	drain(f.hub, a)
	drain(f.hub, b)

	f.ack(t, a, `{"event":"typing:start","ack_id":"t","data":{"recipientId":2}}`)
	assert.True(t, f.hub.IsTyping(1, 2))
	assert.Equal(t, 1, countEvents(drain(f.hub, b), EventTypingStart, 1))

	f.ack(t, a, `{"event":"typing:stop","ack_id":"t","data":{"recipientId":2}}`)
	assert.False(t, f.hub.IsTyping(1, 2))
	assert.Equal(t, 1, countEvents(drain(f.hub, b), EventTypingStop, 1))
}

func TestSendRateCounter(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	req := SendRequest{RecipientID: 2, Content: "spam"}

	for i := 0; i < 2; i++ {
		_, err := f.service.Send(ctx, 1, req)
		require.NoError(t, err)
	}
	_, err := f.service.Send(ctx, 1, req)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	_, err = f.service.Send(ctx, 3, req)
	assert.NoError(t, err, "the budget is per sender")

	f.clock.Advance(time.Minute)
	_, err = f.service.Send(ctx, 1, req)
	assert.NoError(t, err)
}

func TestSendTruncatesNotificationPreview(t *testing.T) {
	long := strings.Repeat("é", previewLength+20)
	assert.Equal(t, strings.Repeat("é", previewLength)+"…", preview(&Message{Content: long}))
	assert.Equal(t, "sent an image", preview(&Message{ImageURL: "http://img"}))
}

// testRouter mounts the message routes behind a stand-in for the auth
// middleware that trusts the X-User header.
func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.Atoi(r.Header.Get("X-User"))
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), id, "")))
		})
	})
	r.Post("/api/messages", h.Send)
	r.Get("/api/messages/conversations", h.Conversations)
	r.Get("/api/messages/unread-count", h.UnreadCount)
	r.Post("/api/messages/conversations/{userId}/read", h.MarkConversationRead)
	r.Get("/api/messages/{userId}", h.GetChatHistory)
	r.Post("/api/messages/{messageId}/read", h.MarkRead)
	r.Delete("/api/messages/{messageId}", h.Delete)
	return r
}

func call(t *testing.T, h http.Handler, method, path string, userID int, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", strconv.Itoa(userID))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessageRoutes(t *testing.T) {
	f := newFixture(t, 0)
	router := testRouter(NewHandler(f.hub, f.service, config.RealtimeConfig{}))

	rec := call(t, router, http.MethodPost, "/api/messages", 1, `{"recipientId":2,"content":"hi there"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))

	rec = call(t, router, http.MethodGet, "/api/messages/conversations", 2, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UserID)
	assert.Equal(t, m.ID, convs[0].LastMessage.ID)
	assert.Equal(t, int64(1), convs[0].UnreadCount)

	rec = call(t, router, http.MethodGet, "/api/messages/unread-count", 2, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/api/messages/conversations/1/read", 2, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"readBy":2,"count":1}`, rec.Body.String())

	rec = call(t, router, http.MethodGet, "/api/messages/unread-count", 2, "")
	assert.JSONEq(t, `{"count":0}`, rec.Body.String())

	rec = call(t, router, http.MethodDelete, fmt.Sprintf("/api/messages/%d", m.ID), 2, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, router, http.MethodDelete, fmt.Sprintf("/api/messages/%d", m.ID), 1, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, router, http.MethodGet, "/api/messages/2", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Empty(t, history)

	rec = call(t, router, http.MethodPost, fmt.Sprintf("/api/messages/%d/read", m.ID), 2, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, router, http.MethodGet, "/api/messages/abc", 1, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
