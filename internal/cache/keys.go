package cache

import (
	"fmt"
	"strings"
)

// Namespace is the leading segment of a colon-delimited cache key.
type Namespace string

const (
	UserProfile         Namespace = "user:profile"
	UserStats           Namespace = "user:stats"
	Post                Namespace = "post"
	PostReactions       Namespace = "post:reactions"
	PostComments        Namespace = "post:comments"
	UserPosts           Namespace = "posts:user"
	Feed                Namespace = "feed"
	Conversation        Namespace = "messages:conversation"
	Conversations       Namespace = "conversations"
	Notifications       Namespace = "notifications"
	UnreadMessages      Namespace = "unread:messages"
	UnreadNotifications Namespace = "unread:notifications"
	MessageRate         Namespace = "rate:messages"
)

// Key builds an exact key: namespace:part1:part2.
func (n Namespace) Key(parts ...any) string {
	if len(parts) == 0 {
		return string(n)
	}
	return string(n) + ":" + join(parts)
}

// Page builds the key of one page of a paginated view owned by id.
func (n Namespace) Page(id any, page, limit int) string {
	return n.Key(id, "page", page, "limit", limit)
}

// Pattern builds a SCAN pattern covering every key below namespace:parts.
func (n Namespace) Pattern(parts ...any) string {
	return n.Key(parts...) + ":*"
}

// PairID is the order-independent identifier of a two-user conversation.
func PairID(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func join(parts []any) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = fmt.Sprint(p)
	}
	return strings.Join(out, ":")
}
