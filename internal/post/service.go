package post

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"go-social/internal/apperr"
	"go-social/internal/cache"
	"go-social/internal/notification"
	"go-social/internal/user"
)

const maxContentLength = 5000

var mentionPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])@([A-Za-z0-9_]{3,50})`)

type Notifier interface {
	Notify(ctx context.Context, c notification.Candidate) (notification.Outcome, *notification.Notification, error)
}

// Directory resolves users for mentions and feeds.
type Directory interface {
	FindByUsernames(ctx context.Context, usernames []string) ([]user.Summary, error)
	FollowingIDs(ctx context.Context, userID int) ([]int, error)
}

type Config struct {
	PostTTL time.Duration
	FeedTTL time.Duration
	Clock   func() time.Time
}

type Service struct {
	repo        *Repository
	cache       *cache.RedisCache
	invalidator *cache.Invalidator
	notifier    Notifier
	users       Directory
	cfg         Config
}

func NewService(repo *Repository, c *cache.RedisCache, inv *cache.Invalidator, n Notifier, users Directory, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{repo: repo, cache: c, invalidator: inv, notifier: n, users: users, cfg: cfg}
}

func validateContent(content, imageURL string) error {
	if strings.TrimSpace(content) == "" && strings.TrimSpace(imageURL) == "" {
		return apperr.Validation("content or image_url is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return apperr.Validation("content must be at most %d characters", maxContentLength)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, userID int, req *CreateRequest) (*Post, error) {
	if err := validateContent(req.Content, req.ImageURL); err != nil {
		return nil, err
	}
	now := s.cfg.Clock().UTC()
	p := &Post{
		UserID:    userID,
		Content:   strings.TrimSpace(req.Content),
		ImageURL:  strings.TrimSpace(req.ImageURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.notifyMentions(ctx, userID, p.Content, p.ID, nil)
	s.invalidator.Invalidate(ctx, cache.PostCreated, cache.Subject{PostID: p.ID, AuthorID: userID})
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int) (*Post, error) {
	p, err := cache.Remember(ctx, s.cache, cache.Post, cache.Post.Key(id), s.cfg.PostTTL, func(ctx context.Context) (Post, error) {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return Post{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Update(ctx context.Context, userID, id int, req *UpdateRequest) (*Post, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, apperr.Forbidden("only the author can edit a post")
	}

	content, image := p.Content, p.ImageURL
	if req.Content != nil {
		content = strings.TrimSpace(*req.Content)
	}
	if req.ImageURL != nil {
		image = strings.TrimSpace(*req.ImageURL)
	}
	if err := validateContent(content, image); err != nil {
		return nil, err
	}

	err = s.repo.Update(ctx, id, map[string]any{
		"content":    content,
		"image_url":  image,
		"updated_at": s.cfg.Clock().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.invalidator.Invalidate(ctx, cache.PostUpdated, cache.Subject{PostID: id, AuthorID: userID})
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, userID, id int) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return apperr.Forbidden("only the author can delete a post")
	}
	err = s.repo.Tx(ctx, func(tx *Repository) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidator.Invalidate(ctx, cache.PostDeleted, cache.Subject{PostID: id, AuthorID: userID})
	return nil
}

func (s *Service) UserPosts(ctx context.Context, authorID, page, limit int) ([]Post, error) {
	key := cache.UserPosts.Page(authorID, page, limit)
	return cache.Remember(ctx, s.cache, cache.UserPosts, key, s.cfg.PostTTL, func(ctx context.Context) ([]Post, error) {
		return s.repo.ListByAuthors(ctx, []int{authorID}, limit, (page-1)*limit)
	})
}

// Feed lists posts by userID and everyone they follow, newest first.
func (s *Service) Feed(ctx context.Context, userID, page, limit int) ([]Post, error) {
	key := cache.Feed.Page(userID, page, limit)
	return cache.Remember(ctx, s.cache, cache.Feed, key, s.cfg.FeedTTL, func(ctx context.Context) ([]Post, error) {
		ids, err := s.users.FollowingIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.repo.ListByAuthors(ctx, append(ids, userID), limit, (page-1)*limit)
	})
}

func (s *Service) Like(ctx context.Context, userID, postID int) (*LikeResult, error) {
	var p *Post
	err := s.repo.Tx(ctx, func(tx *Repository) error {
		var err error
		if p, err = tx.Get(ctx, postID); err != nil {
			return err
		}
		created, err := tx.CreateLike(ctx, &Like{PostID: postID, UserID: userID, CreatedAt: s.cfg.Clock().UTC()})
		if err != nil {
			return err
		}
		if !created {
			return apperr.Conflict("post already liked")
		}
		if err := tx.AddCounter(ctx, postID, "likes_count", 1); err != nil {
			return err
		}
		p.LikesCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.Candidate{
		RecipientID: p.UserID,
		ActorID:     userID,
		Type:        notification.TypeLike,
		PostID:      &p.ID,
	})
	s.invalidator.Invalidate(ctx, cache.PostLiked, cache.Subject{PostID: postID, AuthorID: p.UserID})
	return &LikeResult{PostID: postID, LikesCount: p.LikesCount, Liked: true}, nil
}

func (s *Service) Unlike(ctx context.Context, userID, postID int) (*LikeResult, error) {
	var p *Post
	err := s.repo.Tx(ctx, func(tx *Repository) error {
		var err error
		if p, err = tx.Get(ctx, postID); err != nil {
			return err
		}
		n, err := tx.DeleteLike(ctx, postID, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("post not liked")
		}
		if err := tx.AddCounter(ctx, postID, "likes_count", -1); err != nil {
			return err
		}
		p.LikesCount--
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidator.Invalidate(ctx, cache.PostUnliked, cache.Subject{PostID: postID, AuthorID: p.UserID})
	return &LikeResult{PostID: postID, LikesCount: p.LikesCount, Liked: false}, nil
}

// AddComment stores a comment or, with a parent, a reply. The post author is
// notified of comments and the parent's author of replies.
func (s *Service) AddComment(ctx context.Context, userID, postID int, req *CommentRequest) (*Comment, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, apperr.Validation("content must be at most %d characters", maxContentLength)
	}

	var (
		p      *Post
		parent *Comment
		c      *Comment
	)
	err := s.repo.Tx(ctx, func(tx *Repository) error {
		var err error
		if p, err = tx.Get(ctx, postID); err != nil {
			return err
		}
		if req.ParentID != nil {
			if parent, err = tx.GetComment(ctx, *req.ParentID); err != nil {
				return err
			}
			if parent.PostID != postID {
				return apperr.Validation("parent comment belongs to another post")
			}
		}
		c = &Comment{
			PostID:    postID,
			UserID:    userID,
			ParentID:  req.ParentID,
			Content:   content,
			CreatedAt: s.cfg.Clock().UTC(),
		}
		if err := tx.CreateComment(ctx, c); err != nil {
			return err
		}
		return tx.AddCounter(ctx, postID, "comments_count", 1)
	})
	if err != nil {
		return nil, err
	}

	candidate := notification.Candidate{
		RecipientID: p.UserID,
		ActorID:     userID,
		Type:        notification.TypeComment,
		PostID:      &p.ID,
		CommentID:   &c.ID,
	}
	if parent != nil {
		candidate.RecipientID = parent.UserID
		candidate.Type = notification.TypeReply
	}
	s.notify(ctx, candidate)
	s.notifyMentions(ctx, userID, content, postID, &c.ID)

	s.invalidator.Invalidate(ctx, cache.CommentCreated, cache.Subject{PostID: postID, AuthorID: p.UserID})
	return c, nil
}

func (s *Service) Comments(ctx context.Context, postID, page, limit int) ([]Comment, error) {
	key := cache.PostComments.Page(postID, page, limit)
	return cache.Remember(ctx, s.cache, cache.PostComments, key, s.cfg.PostTTL, func(ctx context.Context) ([]Comment, error) {
		if _, err := s.repo.Get(ctx, postID); err != nil {
			return nil, err
		}
		return s.repo.ListComments(ctx, postID, limit, (page-1)*limit)
	})
}

func (s *Service) React(ctx context.Context, userID, postID int, kind string) (*Reaction, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if !reactionTypes[kind] {
		return nil, apperr.Validation("unknown reaction type %q", kind)
	}
	p, err := s.repo.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	re := &Reaction{PostID: postID, UserID: userID, Type: kind, CreatedAt: s.cfg.Clock().UTC()}
	if err := s.repo.UpsertReaction(ctx, re); err != nil {
		return nil, err
	}
	s.invalidator.Invalidate(ctx, cache.ReactionChanged, cache.Subject{PostID: postID, AuthorID: p.UserID})
	return re, nil
}

func (s *Service) Unreact(ctx context.Context, userID, postID int) error {
	n, err := s.repo.DeleteReaction(ctx, postID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("no reaction to remove")
	}
	s.invalidator.Invalidate(ctx, cache.ReactionChanged, cache.Subject{PostID: postID})
	return nil
}

func (s *Service) Reactions(ctx context.Context, postID int) (map[string]int64, error) {
	return cache.Remember(ctx, s.cache, cache.PostReactions, cache.PostReactions.Key(postID), s.cfg.PostTTL, func(ctx context.Context) (map[string]int64, error) {
		if _, err := s.repo.Get(ctx, postID); err != nil {
			return nil, err
		}
		return s.repo.ReactionCounts(ctx, postID)
	})
}

// notify records a notification. Failures are logged: the triggering write
// has already committed.
func (s *Service) notify(ctx context.Context, c notification.Candidate) {
	if s.notifier == nil {
		return
	}
	if _, _, err := s.notifier.Notify(ctx, c); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("type", string(c.Type)).Msg("notification failed")
	}
}

func (s *Service) notifyMentions(ctx context.Context, actorID int, content string, postID int, commentID *int) {
	names := Mentions(content)
	if len(names) == 0 || s.users == nil {
		return
	}
	users, err := s.users.FindByUsernames(ctx, names)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("resolve mentions")
		return
	}
	for _, u := range users {
		s.notify(ctx, notification.Candidate{
			RecipientID: u.ID,
			ActorID:     actorID,
			Type:        notification.TypeMention,
			PostID:      &postID,
			CommentID:   commentID,
		})
	}
}

// Mentions returns the distinct @usernames in content, in order of appearance.
func Mentions(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
