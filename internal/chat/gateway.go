package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"go-social/internal/apperr"
)

const eventTimeout = 10 * time.Second

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) (any, error)

// Gateway turns inbound realtime frames into service calls. Each frame gets at
// most one acknowledgement, carrying either the result or an error.
type Gateway struct {
	hub      *Hub
	service  *Service
	handlers map[string]eventHandler
}

func NewGateway(hub *Hub, service *Service) *Gateway {
	g := &Gateway{hub: hub, service: service}
	g.handlers = map[string]eventHandler{
		EventMessageSend:      g.messageSend,
		EventTypingStart:      g.typingStart,
		EventTypingStop:       g.typingStop,
		EventMessageRead:      g.messageRead,
		EventConversationRead: g.conversationRead,
	}
	return g
}

func (g *Gateway) Handle(ctx context.Context, c *Client, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		g.ack(c, "", nil, apperr.Validation("malformed frame"))
		return
	}

	if !c.allow() {
		g.ack(c, in.AckID, nil, apperr.RateLimited("too many events"))
		return
	}

	handler, ok := g.handlers[in.Event]
	if !ok {
		g.ack(c, in.AckID, nil, apperr.Validation("unknown event %q", in.Event))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	result, err := handler(ctx, c, in.Data)
	if err != nil && apperr.Code(err) == "internal_error" {
		zerolog.Ctx(ctx).Error().Err(err).Str("event", in.Event).Msg("realtime event failed")
	}
	g.ack(c, in.AckID, result, err)
}

func (g *Gateway) ack(c *Client, ackID string, result any, err error) {
	if ackID == "" {
		return
	}
	out := Outbound{Event: EventAck, AckID: ackID}
	if err != nil {
		out.Error = &AckError{Code: apperr.Code(err), Message: apperr.Message(err)}
	} else {
		out.Data = result
	}
	frame, mErr := json.Marshal(out)
	if mErr != nil {
		return
	}
	g.hub.Reply(c, frame)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("invalid data: %v", err)
	}
	return nil
}

func (g *Gateway) messageSend(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req SendRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return g.service.Send(ctx, c.UserID, req)
}

func (g *Gateway) typingTarget(c *Client, data json.RawMessage) (int, error) {
	var p recipientPayload
	if err := decode(data, &p); err != nil {
		return 0, err
	}
	if p.RecipientID <= 0 || p.RecipientID == c.UserID {
		return 0, apperr.Validation("recipientId must be another user")
	}
	return p.RecipientID, nil
}

func (g *Gateway) typingStart(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	to, err := g.typingTarget(c, data)
	if err != nil {
		return nil, err
	}
	g.hub.StartTyping(c, to)
	return struct{}{}, nil
}

func (g *Gateway) typingStop(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	to, err := g.typingTarget(c, data)
	if err != nil {
		return nil, err
	}
	g.hub.StopTyping(c, to)
	return struct{}{}, nil
}

func (g *Gateway) messageRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p messageReadPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.MessageID <= 0 {
		return nil, apperr.Validation("messageId is required")
	}
	return g.service.MarkRead(ctx, c.UserID, p.MessageID, p.SenderID)
}

func (g *Gateway) conversationRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p conversationReadPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	n, err := g.service.MarkConversationRead(ctx, c.UserID, p.SenderID)
	if err != nil {
		return nil, err
	}
	return conversationReadEvent{ReadBy: c.UserID, Count: n}, nil
}
