package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/notification"
)

const (
	maxMessageLength = 5000
	previewLength    = 100
)

var tracer = otel.Tracer("go-social/chat")

type Deliverer interface {
	Deliver(userID int, event string, payload any)
}

type Notifier interface {
	Notify(ctx context.Context, c notification.Candidate) (notification.Outcome, *notification.Notification, error)
}

// UserChecker confirms a recipient exists.
type UserChecker interface {
	Exists(ctx context.Context, id int) (bool, error)
}

type ServiceConfig struct {
	ConversationTTL time.Duration
	CounterTTL      time.Duration
	Clock           func() time.Time
}

// Service owns direct messages. Every mutation commits to the store first,
// then pushes realtime events, then notifies, then clears cached views.
type Service struct {
	repo        *Repository
	cache       *cache.RedisCache
	invalidator *cache.Invalidator
	deliverer   Deliverer
	notifier    Notifier
	users       UserChecker
	rate        *cache.RateCounter
	cfg         ServiceConfig
}

func NewService(repo *Repository, c *cache.RedisCache, inv *cache.Invalidator, d Deliverer, n Notifier, users UserChecker, rate *cache.RateCounter, cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		repo:        repo,
		cache:       c,
		invalidator: inv,
		deliverer:   d,
		notifier:    n,
		users:       users,
		rate:        rate,
		cfg:         cfg,
	}
}

// Send stores a message and pushes it to the recipient. The stored copy is the
// durable record: push, notification and cache failures never fail the send.
func (s *Service) Send(ctx context.Context, senderID int, req SendRequest) (*Message, error) {
	ctx, span := tracer.Start(ctx, "chat.Send")
	defer span.End()
	span.SetAttributes(attribute.Int("sender_id", senderID), attribute.Int("recipient_id", req.RecipientID))

	content := strings.TrimSpace(req.Content)
	image := strings.TrimSpace(req.ImageURL)
	if req.RecipientID <= 0 {
		return nil, apperr.Validation("recipientId is required")
	}
	if content == "" && image == "" {
		return nil, apperr.Validation("content or image_url is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, apperr.Validation("content must be at most %d characters", maxMessageLength)
	}
	if req.RecipientID == senderID {
		return nil, apperr.Validation("cannot message yourself")
	}
	if s.users != nil {
		ok, err := s.users.Exists(ctx, req.RecipientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NotFound("recipient not found")
		}
	}
	if !s.rate.Allow(ctx, senderID) {
		return nil, apperr.RateLimited("too many messages, slow down")
	}

	m := &Message{
		SenderID:    senderID,
		RecipientID: req.RecipientID,
		Content:     content,
		ImageURL:    image,
		CreatedAt:   s.cfg.Clock().UTC(),
	}
	if err := s.repo.SaveMessage(ctx, m); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("recipient_id", req.RecipientID).Msg("store message")
		return nil, err
	}

	s.deliver(m.RecipientID, EventMessageReceived, m)

	if s.notifier != nil {
		_, _, err := s.notifier.Notify(ctx, notification.Candidate{
			RecipientID: m.RecipientID,
			ActorID:     senderID,
			Type:        notification.TypeMessage,
			Preview:     preview(m),
		})
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int("message_id", m.ID).Msg("message notification failed")
		}
	}

	s.invalidator.Invalidate(ctx, cache.MessageSent, cache.Subject{UserID: senderID, OtherUserID: m.RecipientID})
	return m, nil
}

func preview(m *Message) string {
	if m.Content == "" {
		return "sent an image"
	}
	if utf8.RuneCountInString(m.Content) <= previewLength {
		return m.Content
	}
	return string([]rune(m.Content)[:previewLength]) + "…"
}

// MarkRead marks one message read by its recipient and tells the sender.
// A non-zero senderID must match the message's sender. Reading an
// already-read message is a no-op that returns it unchanged.
func (s *Service) MarkRead(ctx context.Context, readerID, messageID, senderID int) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if senderID != 0 && senderID != m.SenderID {
		return nil, apperr.NotFound("message not found")
	}
	if m.RecipientID != readerID {
		return nil, apperr.Forbidden("message is not addressed to you")
	}
	if m.IsRead {
		return m, nil
	}

	now := s.cfg.Clock().UTC()
	changed, err := s.repo.MarkRead(ctx, m.ID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Another device got there first and already told the sender.
		return s.repo.GetMessage(ctx, m.ID)
	}
	m.IsRead = true
	m.ReadAt = &now

	s.deliver(m.SenderID, EventMessageRead, messageReadEvent{MessageID: m.ID, ReadAt: now, ReadBy: readerID})
	s.invalidator.Invalidate(ctx, cache.MessagesRead, cache.Subject{UserID: readerID, OtherUserID: m.SenderID})
	return m, nil
}

// MarkConversationRead marks everything senderID sent to readerID as read.
// The sender is told once, with the count, when anything changed.
func (s *Service) MarkConversationRead(ctx context.Context, readerID, senderID int) (int64, error) {
	if senderID <= 0 {
		return 0, apperr.Validation("senderId is required")
	}
	if senderID == readerID {
		return 0, apperr.Validation("senderId must be another user")
	}

	n, err := s.repo.MarkConversationRead(ctx, senderID, readerID, s.cfg.Clock().UTC())
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	s.deliver(senderID, EventConversationRead, conversationReadEvent{ReadBy: readerID, Count: n})
	s.invalidator.Invalidate(ctx, cache.MessagesRead, cache.Subject{UserID: readerID, OtherUserID: senderID})
	return n, nil
}

// Delete soft-deletes a message. Only its sender may delete it.
func (s *Service) Delete(ctx context.Context, userID, messageID int) error {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return apperr.Forbidden("only the sender can delete a message")
	}
	if err := s.repo.SoftDelete(ctx, m.ID); err != nil {
		return err
	}
	s.invalidator.Invalidate(ctx, cache.MessageDeleted, cache.Subject{UserID: m.SenderID, OtherUserID: m.RecipientID})
	return nil
}

func (s *Service) History(ctx context.Context, userID, otherID, page, limit int) ([]Message, error) {
	key := cache.Conversation.Page(cache.PairID(userID, otherID), page, limit)
	return cache.Remember(ctx, s.cache, cache.Conversation, key, s.cfg.ConversationTTL, func(ctx context.Context) ([]Message, error) {
		return s.repo.History(ctx, userID, otherID, limit, (page-1)*limit)
	})
}

func (s *Service) Conversations(ctx context.Context, userID, page, limit int) ([]Conversation, error) {
	key := cache.Conversations.Page(userID, page, limit)
	return cache.Remember(ctx, s.cache, cache.Conversations, key, s.cfg.ConversationTTL, func(ctx context.Context) ([]Conversation, error) {
		return s.repo.Conversations(ctx, userID, limit, (page-1)*limit)
	})
}

func (s *Service) UnreadCount(ctx context.Context, userID int) (int64, error) {
	return cache.Remember(ctx, s.cache, cache.UnreadMessages, cache.UnreadMessages.Key(userID), s.cfg.CounterTTL, func(ctx context.Context) (int64, error) {
		return s.repo.UnreadCount(ctx, userID)
	})
}

func (s *Service) deliver(userID int, event string, payload any) {
	if s.deliverer != nil {
		s.deliverer.Deliver(userID, event, payload)
	}
}
