package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/metrics"
)

var tracer = otel.Tracer("go-social/notification")

// Deliverer pushes an event to every live connection of a user. It must not
// block and never fails; an offline user simply misses the push.
type Deliverer interface {
	Deliver(userID int, event string, payload any)
}

type Config struct {
	DedupWindow time.Duration
	ListTTL     time.Duration
	CounterTTL  time.Duration
	Clock       func() time.Time
}

type Service struct {
	repo        *Repository
	cache       *cache.RedisCache
	invalidator *cache.Invalidator
	deliverer   Deliverer
	cfg         Config
}

func NewService(repo *Repository, c *cache.RedisCache, inv *cache.Invalidator, d Deliverer, cfg Config) *Service {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{repo: repo, cache: c, invalidator: inv, deliverer: d, cfg: cfg}
}

// Notify records c unless it is a self-action or, for like and follow, an
// identical notification already exists inside the dedup window. A created
// notification is pushed to the recipient and their cached lists are cleared.
//
// The lookup and the insert are not atomic: two identical concurrent actions
// can both pass the lookup and store two rows.
func (s *Service) Notify(ctx context.Context, c Candidate) (Outcome, *Notification, error) {
	ctx, span := tracer.Start(ctx, "notification.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("type", string(c.Type)),
		attribute.Int("recipient_id", c.RecipientID),
		attribute.Int("actor_id", c.ActorID),
	)

	if !c.Type.Valid() {
		return "", nil, apperr.Validation("unknown notification type %q", c.Type)
	}
	if c.RecipientID <= 0 || c.ActorID <= 0 {
		return "", nil, apperr.Validation("recipient and actor are required")
	}

	logger := zerolog.Ctx(ctx).With().
		Str("type", string(c.Type)).
		Int("recipient_id", c.RecipientID).
		Int("actor_id", c.ActorID).
		Logger()

	if c.RecipientID == c.ActorID {
		metrics.RecordNotification(string(c.Type), string(SuppressedSelf))
		logger.Debug().Msg("self notification suppressed")
		return SuppressedSelf, nil, nil
	}

	now := s.cfg.Clock().UTC()
	if c.Type.windowed() {
		exists, err := s.repo.ExistsSince(ctx, c, now.Add(-s.cfg.DedupWindow))
		if err != nil {
			return "", nil, err
		}
		if exists {
			metrics.RecordNotification(string(c.Type), string(SuppressedDuplicate))
			logger.Debug().Msg("duplicate notification suppressed")
			return SuppressedDuplicate, nil, nil
		}
	}

	n := &Notification{
		RecipientID: c.RecipientID,
		Type:        c.Type,
		ActorID:     c.ActorID,
		PostID:      c.PostID,
		CommentID:   c.CommentID,
		Preview:     c.Preview,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		logger.Error().Err(err).Msg("store notification")
		return "", nil, err
	}
	metrics.RecordNotification(string(c.Type), string(Created))

	if s.deliverer != nil {
		s.deliverer.Deliver(n.RecipientID, EventNew, n)
	}
	s.invalidator.Invalidate(ctx, cache.NotificationChanged, cache.Subject{UserID: n.RecipientID})

	return Created, n, nil
}

func (s *Service) List(ctx context.Context, userID, page, limit int) ([]Notification, error) {
	key := cache.Notifications.Page(userID, page, limit)
	return cache.Remember(ctx, s.cache, cache.Notifications, key, s.cfg.ListTTL, func(ctx context.Context) ([]Notification, error) {
		return s.repo.List(ctx, userID, limit, (page-1)*limit)
	})
}

func (s *Service) UnreadCount(ctx context.Context, userID int) (int64, error) {
	key := cache.UnreadNotifications.Key(userID)
	return cache.Remember(ctx, s.cache, cache.UnreadNotifications, key, s.cfg.CounterTTL, func(ctx context.Context) (int64, error) {
		return s.repo.UnreadCount(ctx, userID)
	})
}

func (s *Service) MarkRead(ctx context.Context, userID, id int) error {
	n, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("notification not found")
	}
	s.invalidator.Invalidate(ctx, cache.NotificationChanged, cache.Subject{UserID: userID})
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID int) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.invalidator.Invalidate(ctx, cache.NotificationChanged, cache.Subject{UserID: userID})
	return n, nil
}

func (s *Service) Delete(ctx context.Context, userID, id int) error {
	n, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("notification not found")
	}
	s.invalidator.Invalidate(ctx, cache.NotificationChanged, cache.Subject{UserID: userID})
	return nil
}

func (s *Service) DeleteAll(ctx context.Context, userID int) (int64, error) {
	n, err := s.repo.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.invalidator.Invalidate(ctx, cache.NotificationChanged, cache.Subject{UserID: userID})
	return n, nil
}
