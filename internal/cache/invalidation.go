package cache

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"go-social/internal/metrics"
)

var tracer = otel.Tracer("go-social/cache")

// Mutation names a write that leaves derived views stale.
type Mutation string

const (
	PostCreated         Mutation = "post_created"
	PostUpdated         Mutation = "post_updated"
	PostDeleted         Mutation = "post_deleted"
	PostLiked           Mutation = "post_liked"
	PostUnliked         Mutation = "post_unliked"
	ReactionChanged     Mutation = "reaction_changed"
	CommentCreated      Mutation = "comment_created"
	FollowChanged       Mutation = "follow_changed"
	ProfileUpdated      Mutation = "profile_updated"
	MessageSent         Mutation = "message_sent"
	MessagesRead        Mutation = "messages_read"
	MessageDeleted      Mutation = "message_deleted"
	NotificationChanged Mutation = "notification_changed"
)

// Subject carries the identifiers a mutation touched. Which fields matter
// depends on the mutation:
//
//	post writes:     PostID, AuthorID
//	likes/reactions: PostID
//	comments:        PostID
//	follows:         UserID (follower), OtherUserID (followee)
//	profiles:        UserID
//	messages:        UserID (sender), OtherUserID (recipient)
//	reads:           UserID (reader), OtherUserID (counterpart)
//	notifications:   UserID (recipient)
type Subject struct {
	UserID      int
	OtherUserID int
	PostID      int
	AuthorID    int
}

// Target is either an exact key or a SCAN pattern.
type Target struct {
	Value   string
	Pattern bool
}

func Exact(key string) Target     { return Target{Value: key} }
func Match(pattern string) Target { return Target{Value: pattern, Pattern: true} }

type rule func(Subject) []Target

func postWrite(s Subject) []Target {
	return []Target{
		Exact(Post.Key(s.PostID)),
		Match(UserPosts.Pattern(s.AuthorID)),
		Match(Feed.Pattern()),
	}
}

func conversationPair(sender, recipient int) []Target {
	return []Target{
		Match(Conversations.Pattern(sender)),
		Match(Conversations.Pattern(recipient)),
		Match(Conversation.Pattern(PairID(sender, recipient))),
		Exact(UnreadMessages.Key(recipient)),
	}
}

var rules = map[Mutation]rule{
	PostCreated: postWrite,
	PostUpdated: postWrite,
	// Deleting a post also drops its comment and reaction rows.
	PostDeleted: func(s Subject) []Target {
		return append(postWrite(s),
			Match(PostComments.Pattern(s.PostID)),
			Exact(PostReactions.Key(s.PostID)),
		)
	},
	PostLiked: func(s Subject) []Target {
		return []Target{Exact(Post.Key(s.PostID))}
	},
	PostUnliked: func(s Subject) []Target {
		return []Target{Exact(Post.Key(s.PostID))}
	},
	ReactionChanged: func(s Subject) []Target {
		return []Target{Exact(Post.Key(s.PostID)), Exact(PostReactions.Key(s.PostID))}
	},
	CommentCreated: func(s Subject) []Target {
		return []Target{Exact(Post.Key(s.PostID)), Match(PostComments.Pattern(s.PostID))}
	},
	FollowChanged: func(s Subject) []Target {
		return []Target{
			Exact(UserProfile.Key(s.UserID)),
			Exact(UserProfile.Key(s.OtherUserID)),
			Exact(UserStats.Key(s.UserID)),
			Exact(UserStats.Key(s.OtherUserID)),
			Match(Feed.Pattern(s.UserID)),
		}
	},
	ProfileUpdated: func(s Subject) []Target {
		return []Target{Exact(UserProfile.Key(s.UserID))}
	},
	MessageSent: func(s Subject) []Target {
		return conversationPair(s.UserID, s.OtherUserID)
	},
	// The reader is the recipient whose unread counter drops.
	MessagesRead: func(s Subject) []Target {
		return conversationPair(s.OtherUserID, s.UserID)
	},
	MessageDeleted: func(s Subject) []Target {
		return conversationPair(s.UserID, s.OtherUserID)
	},
	NotificationChanged: func(s Subject) []Target {
		return []Target{
			Match(Notifications.Pattern(s.UserID)),
			Exact(UnreadNotifications.Key(s.UserID)),
		}
	},
}

// Targets lists what a mutation clears. Unknown mutations clear nothing.
func Targets(m Mutation, s Subject) []Target {
	r, ok := rules[m]
	if !ok {
		return nil
	}
	return r(s)
}

// Invalidator clears derived views after a durable write has succeeded.
// Failures are logged and counted, never returned: a stale entry expires on
// its own TTL and must not fail the write that caused it.
type Invalidator struct {
	cache *RedisCache
}

func NewInvalidator(c *RedisCache) *Invalidator {
	return &Invalidator{cache: c}
}

func (i *Invalidator) Invalidate(ctx context.Context, m Mutation, s Subject) {
	if i == nil || i.cache == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "cache.Invalidate")
	defer span.End()
	span.SetAttributes(attribute.String("mutation", string(m)))

	logger := zerolog.Ctx(ctx)
	targets := Targets(m, s)
	if len(targets) == 0 {
		logger.Warn().Str("mutation", string(m)).Msg("no invalidation rule")
		return
	}

	var exact []string
	failed := false
	for _, t := range targets {
		if !t.Pattern {
			exact = append(exact, t.Value)
			continue
		}
		if _, err := i.cache.DeletePattern(ctx, t.Value); err != nil {
			failed = true
			logger.Warn().Err(err).Str("mutation", string(m)).Str("pattern", t.Value).Msg("cache invalidation failed")
		}
	}
	if err := i.cache.Delete(ctx, exact...); err != nil {
		failed = true
		logger.Warn().Err(err).Str("mutation", string(m)).Strs("keys", exact).Msg("cache invalidation failed")
	}

	status := "ok"
	if failed {
		status = "error"
	}
	metrics.RecordInvalidation(string(m), status)
}
