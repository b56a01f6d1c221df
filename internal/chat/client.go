package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go-social/internal/config"
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	ID       string
	UserID   int
	Username string
	OpenedAt time.Time

	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound frames. Only the hub closes it.
	send    chan []byte
	limiter *rate.Limiter
	cfg     config.RealtimeConfig
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int, username string, cfg config.RealtimeConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	var limiter *rate.Limiter
	if cfg.EventRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EventRate), cfg.EventBurst)
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		OpenedAt: time.Now().UTC(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, buf),
		limiter:  limiter,
		cfg:      cfg,
	}
}

// allow applies the per-connection inbound event budget.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// readPump feeds inbound frames to the gateway one at a time, so events from
// a connection are handled in arrival order. A missed pong expires the read
// deadline, which ends the loop and unregisters the client.
func (c *Client) readPump(ctx context.Context, g *Gateway) {
	logger := zerolog.Ctx(ctx)
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		g.Handle(ctx, c, message)
	}
}

// writePump drains the send channel to the socket and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
