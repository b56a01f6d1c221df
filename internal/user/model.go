package user

import "time"

type User struct {
	ID          int       `json:"id" gorm:"primaryKey"`
	Username    string    `json:"username" gorm:"size:50;uniqueIndex;not null"`
	Password    string    `json:"-" gorm:"size:255;not null"`
	DisplayName string    `json:"display_name" gorm:"size:100"`
	Bio         string    `json:"bio" gorm:"size:500"`
	AvatarURL   string    `json:"avatar_url" gorm:"size:500"`
	CreatedAt   time.Time `json:"created_at"`
}

type Follow struct {
	FollowerID  int       `json:"follower_id" gorm:"primaryKey;autoIncrement:false"`
	FollowingID int       `json:"following_id" gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary is the short form of a user used in lists.
type Summary struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type Stats struct {
	Followers int64 `json:"followers_count"`
	Following int64 `json:"following_count"`
}

type Profile struct {
	ID          int       `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	Stats
	IsOnline bool `json:"is_online"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}

type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

func Models() []any {
	return []any{&User{}, &Follow{}}
}
