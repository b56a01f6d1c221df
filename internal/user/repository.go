package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"go-social/internal/apperr"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := r.db.WithContext(ctx).Where("username = ?", username).First(u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id int) (*User, error) {
	u := &User{}
	err := r.db.WithContext(ctx).First(u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *Repository) Exists(ctx context.Context, id int) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return n > 0, nil
}

// SearchUsers matches usernames case-insensitively. Results are capped at 10.
func (r *Repository) SearchUsers(ctx context.Context, query string) ([]Summary, error) {
	users := []Summary{}
	pattern := "%" + strings.ToLower(query) + "%"
	err := r.db.WithContext(ctx).Model(&User{}).
		Select("id, username, display_name, avatar_url").
		Where("LOWER(username) LIKE ?", pattern).
		Order("username").
		Limit(10).
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (r *Repository) FindByUsernames(ctx context.Context, usernames []string) ([]Summary, error) {
	users := []Summary{}
	if len(usernames) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Model(&User{}).
		Select("id, username, display_name, avatar_url").
		Where("username IN ?", usernames).
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	return users, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, id int, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context, id int) (Stats, error) {
	var s Stats
	db := r.db.WithContext(ctx).Model(&Follow{})
	if err := db.Where("following_id = ?", id).Count(&s.Followers).Error; err != nil {
		return s, fmt.Errorf("count followers: %w", err)
	}
	db = r.db.WithContext(ctx).Model(&Follow{})
	if err := db.Where("follower_id = ?", id).Count(&s.Following).Error; err != nil {
		return s, fmt.Errorf("count following: %w", err)
	}
	return s, nil
}

func (r *Repository) FollowExists(ctx context.Context, followerID, followingID int) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("follow exists: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) CreateFollow(ctx context.Context, f *Follow) error {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

func (r *Repository) DeleteFollow(ctx context.Context, followerID, followingID int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&Follow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete follow: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FollowingIDs lists the ids userID follows.
func (r *Repository) FollowingIDs(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := r.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ?", userID).
		Pluck("following_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list following ids: %w", err)
	}
	return ids, nil
}

func (r *Repository) ListFollowers(ctx context.Context, userID, limit, offset int) ([]Summary, error) {
	return r.listFollowSide(ctx, "follows.follower_id", "follows.following_id", userID, limit, offset)
}

func (r *Repository) ListFollowing(ctx context.Context, userID, limit, offset int) ([]Summary, error) {
	return r.listFollowSide(ctx, "follows.following_id", "follows.follower_id", userID, limit, offset)
}

func (r *Repository) listFollowSide(ctx context.Context, joinCol, whereCol string, userID, limit, offset int) ([]Summary, error) {
	users := []Summary{}
	err := r.db.WithContext(ctx).Table("users").
		Select("users.id, users.username, users.display_name, users.avatar_url").
		Joins("JOIN follows ON "+joinCol+" = users.id").
		Where(whereCol+" = ?", userID).
		Order("follows.created_at DESC, users.id").
		Limit(limit).Offset(offset).
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	return users, nil
}
