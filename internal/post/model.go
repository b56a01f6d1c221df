package post

import "time"

type Post struct {
	ID            int       `json:"id" gorm:"primaryKey"`
	UserID        int       `json:"user_id" gorm:"not null;index"`
	Content       string    `json:"content" gorm:"type:text"`
	ImageURL      string    `json:"image_url,omitempty" gorm:"size:500"`
	LikesCount    int       `json:"likes_count" gorm:"not null;default:0"`
	CommentsCount int       `json:"comments_count" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null;index"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Like struct {
	PostID    int       `gorm:"primaryKey;autoIncrement:false"`
	UserID    int       `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

type Comment struct {
	ID        int       `json:"id" gorm:"primaryKey"`
	PostID    int       `json:"post_id" gorm:"not null;index"`
	UserID    int       `json:"user_id" gorm:"not null"`
	ParentID  *int      `json:"parent_id,omitempty" gorm:"index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

type Reaction struct {
	PostID    int       `json:"post_id" gorm:"primaryKey;autoIncrement:false"`
	UserID    int       `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	Type      string    `json:"type" gorm:"size:20;not null"`
	CreatedAt time.Time `json:"created_at"`
}

var reactionTypes = map[string]bool{
	"like": true, "love": true, "haha": true, "wow": true, "sad": true, "angry": true,
}

type CreateRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

type UpdateRequest struct {
	Content  *string `json:"content"`
	ImageURL *string `json:"image_url"`
}

type CommentRequest struct {
	Content  string `json:"content"`
	ParentID *int   `json:"parent_id"`
}

type ReactionRequest struct {
	Type string `json:"type"`
}

type LikeResult struct {
	PostID     int  `json:"post_id"`
	LikesCount int  `json:"likes_count"`
	Liked      bool `json:"liked"`
}

func Models() []any {
	return []any{&Post{}, &Like{}, &Comment{}, &Reaction{}}
}
