package chat

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"go-social/internal/logging"
	"go-social/internal/metrics"
)

// Hub is the realtime event loop. Presence, typing state and the client
// table are touched only by operations running on Run's goroutine, taken
// one at a time from a FIFO queue, so two calls made in order by the same
// goroutine take effect in that order.
type Hub struct {
	ops      chan func()
	done     chan struct{}
	presence *Presence
	typing   *Typing
	clients  map[int]map[*Client]struct{}
	log      zerolog.Logger
}

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Hub{
		ops:      make(chan func(), queueSize),
		done:     make(chan struct{}),
		presence: NewPresence(),
		typing:   NewTyping(),
		clients:  make(map[int]map[*Client]struct{}),
		log:      logging.Component("hub"),
	}
}

// Run processes queued operations until ctx is cancelled, then closes every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[int]map[*Client]struct{}{}
			return
		case op := <-h.ops:
			op()
		}
	}
}

// enqueue waits for room in the queue. It reports false once the hub stopped.
func (h *Hub) enqueue(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

// query runs fn on the loop and waits for its result.
func query[T any](h *Hub, fn func() T, zero T) T {
	reply := make(chan T, 1)
	if !h.enqueue(func() { reply <- fn() }) {
		return zero
	}
	select {
	case v := <-reply:
		return v
	case <-h.done:
		return zero
	}
}

func (h *Hub) Register(c *Client) {
	if !h.enqueue(func() { h.register(c) }) {
		close(c.send)
	}
}

func (h *Hub) Unregister(c *Client) {
	h.enqueue(func() { h.unregister(c) })
}

// Deliver pushes event to every live connection of userID. It never blocks:
// when the queue is saturated the event is dropped. Offline users are skipped.
func (h *Hub) Deliver(userID int, event string, payload any) {
	frame, err := json.Marshal(Outbound{Event: event, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	select {
	case h.ops <- func() { h.deliver(userID, event, frame) }:
	default:
		metrics.RecordDelivery(event, "dropped")
		h.log.Warn().Int("user_id", userID).Str("event", event).Msg("hub queue full, event dropped")
	}
}

// Reply sends a frame to one connection if it is still registered.
func (h *Hub) Reply(c *Client, frame []byte) {
	h.enqueue(func() {
		if _, ok := h.clients[c.UserID][c]; ok {
			h.send(c, EventAck, frame)
		}
	})
}

// StartTyping marks c's user as typing to counterpartID. Connections that
// were already unregistered are ignored.
func (h *Hub) StartTyping(c *Client, counterpartID int) {
	h.enqueue(func() {
		if _, ok := h.clients[c.UserID][c]; !ok {
			return
		}
		h.typing.Start(c.UserID, counterpartID)
		h.deliverValue(counterpartID, EventTypingStart, userEvent{UserID: c.UserID})
	})
}

func (h *Hub) StopTyping(c *Client, counterpartID int) {
	h.enqueue(func() {
		if _, ok := h.clients[c.UserID][c]; !ok {
			return
		}
		h.typing.Stop(c.UserID, counterpartID)
		h.deliverValue(counterpartID, EventTypingStop, userEvent{UserID: c.UserID})
	})
}

func (h *Hub) IsOnline(userID int) bool {
	return query(h, func() bool { return h.presence.IsOnline(userID) }, false)
}

func (h *Hub) OnlineUsers() []int {
	return query(h, h.presence.OnlineUsers, []int{})
}

// IsTyping reports whether userID is typing to counterpartID.
func (h *Hub) IsTyping(userID, counterpartID int) bool {
	return query(h, func() bool { return h.typing.IsTyping(userID, counterpartID) }, false)
}

// The methods below run on the loop goroutine only.

func (h *Hub) register(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}
	metrics.Connections.Inc()

	if h.presence.Register(c.UserID, c.ID) {
		metrics.OnlineUsers.Inc()
		h.log.Debug().Int("user_id", c.UserID).Msg("user online")
		h.broadcastExcept(c.UserID, EventUserOnline, userEvent{UserID: c.UserID})
	}

	frame, _ := json.Marshal(Outbound{Event: EventUsersOnline, Data: usersOnlineEvent{UserIDs: h.presence.OnlineUsers()}})
	h.send(c, EventUsersOnline, frame)
}

func (h *Hub) unregister(c *Client) {
	set := h.clients[c.UserID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.send)
	metrics.Connections.Dec()

	if !h.presence.Unregister(c.UserID, c.ID) {
		return
	}
	metrics.OnlineUsers.Dec()
	h.log.Debug().Int("user_id", c.UserID).Msg("user offline")

	for _, other := range h.typing.ClearUser(c.UserID) {
		h.deliverValue(other, EventTypingStop, userEvent{UserID: c.UserID})
	}
	h.broadcastExcept(c.UserID, EventUserOffline, userEvent{UserID: c.UserID})
}

func (h *Hub) deliverValue(userID int, event string, payload any) {
	frame, err := json.Marshal(Outbound{Event: event, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	h.deliver(userID, event, frame)
}

func (h *Hub) deliver(userID int, event string, frame []byte) {
	set := h.clients[userID]
	if len(set) == 0 {
		metrics.RecordDelivery(event, "offline")
		return
	}
	for c := range set {
		h.send(c, event, frame)
	}
}

func (h *Hub) broadcastExcept(userID int, event string, payload any) {
	frame, err := json.Marshal(Outbound{Event: event, Data: payload})
	if err != nil {
		return
	}
	for id, set := range h.clients {
		if id == userID {
			continue
		}
		for c := range set {
			h.send(c, event, frame)
		}
	}
}

// send queues frame on c. A client that cannot keep up is evicted.
func (h *Hub) send(c *Client, event string, frame []byte) {
	select {
	case c.send <- frame:
		metrics.RecordDelivery(event, "delivered")
	default:
		metrics.RecordDelivery(event, "evicted")
		h.log.Warn().Int("user_id", c.UserID).Str("conn_id", c.ID).Msg("send buffer full, evicting connection")
		h.unregister(c)
	}
}
