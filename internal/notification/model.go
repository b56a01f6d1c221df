package notification

import "time"

// Type is the fixed set of notification kinds.
type Type string

const (
	TypeLike    Type = "like"
	TypeComment Type = "comment"
	TypeReply   Type = "reply"
	TypeFollow  Type = "follow"
	TypeMessage Type = "message"
	TypeMention Type = "mention"
)

// EventNew is pushed to the recipient's live connections after creation.
const EventNew = "notification:new"

func (t Type) Valid() bool {
	switch t {
	case TypeLike, TypeComment, TypeReply, TypeFollow, TypeMessage, TypeMention:
		return true
	}
	return false
}

// windowed reports whether repeats of t are suppressed inside the dedup
// window. Comments, replies, mentions and messages always notify.
func (t Type) windowed() bool {
	return t == TypeLike || t == TypeFollow
}

type Notification struct {
	ID          int       `json:"id" gorm:"primaryKey"`
	RecipientID int       `json:"recipient_id" gorm:"not null;index:idx_notifications_dedup,priority:1"`
	Type        Type      `json:"type" gorm:"size:20;not null;index:idx_notifications_dedup,priority:2"`
	ActorID     int       `json:"actor_id" gorm:"not null;index:idx_notifications_dedup,priority:3"`
	PostID      *int      `json:"post_id,omitempty"`
	CommentID   *int      `json:"comment_id,omitempty"`
	Preview     string    `json:"message_preview,omitempty" gorm:"size:200"`
	IsRead      bool      `json:"is_read" gorm:"not null;default:false;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;index"`
}

// Candidate is a notification that has not been checked or stored yet.
type Candidate struct {
	RecipientID int
	ActorID     int
	Type        Type
	PostID      *int
	CommentID   *int
	Preview     string
}

// Outcome is the result of Notify. Suppression is a normal result, not an error.
type Outcome string

const (
	Created             Outcome = "created"
	SuppressedSelf      Outcome = "suppressed_self"
	SuppressedDuplicate Outcome = "suppressed_duplicate"
)

type UnreadCount struct {
	Count int64 `json:"count"`
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Notification{}}
}
