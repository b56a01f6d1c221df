package post

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-social/internal/apperr"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Tx runs fn inside a transaction with a repository bound to it.
func (r *Repository) Tx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) Create(ctx context.Context, p *Post) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int) (*Post, error) {
	p := &Post{}
	err := r.db.WithContext(ctx).First(p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

func (r *Repository) Update(ctx context.Context, id int, fields map[string]any) error {
	if err := r.db.WithContext(ctx).Model(&Post{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return nil
}

// Delete removes a post with its likes, comments and reactions.
func (r *Repository) Delete(ctx context.Context, id int) error {
	db := r.db.WithContext(ctx)
	for _, m := range []any{&Like{}, &Comment{}, &Reaction{}} {
		if err := db.Where("post_id = ?", id).Delete(m).Error; err != nil {
			return fmt.Errorf("delete post children: %w", err)
		}
	}
	if err := db.Delete(&Post{}, id).Error; err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func (r *Repository) ListByAuthors(ctx context.Context, authorIDs []int, limit, offset int) ([]Post, error) {
	posts := []Post{}
	if len(authorIDs) == 0 {
		return posts, nil
	}
	err := r.db.WithContext(ctx).
		Where("user_id IN ?", authorIDs).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// CreateLike inserts a like and reports false when userID already liked
// the post. Concurrent duplicates resolve on the primary key.
func (r *Repository) CreateLike(ctx context.Context, l *Like) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(l)
	if res.Error != nil {
		return false, fmt.Errorf("insert like: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) DeleteLike(ctx context.Context, postID, userID int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&Like{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete like: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AddCounter adds delta to one of the denormalized post counters.
func (r *Repository) AddCounter(ctx context.Context, postID int, column string, delta int) error {
	err := r.db.WithContext(ctx).Model(&Post{}).
		Where("id = ?", postID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}

func (r *Repository) CreateComment(ctx context.Context, c *Comment) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *Repository) GetComment(ctx context.Context, id int) (*Comment, error) {
	c := &Comment{}
	err := r.db.WithContext(ctx).First(c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("comment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func (r *Repository) ListComments(ctx context.Context, postID, limit, offset int) ([]Comment, error) {
	comments := []Comment{}
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Limit(limit).Offset(offset).
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// UpsertReaction keeps one reaction per user per post.
func (r *Repository) UpsertReaction(ctx context.Context, re *Reaction) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "created_at"}),
	}).Create(re).Error
	if err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

func (r *Repository) DeleteReaction(ctx context.Context, postID, userID int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&Reaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete reaction: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) ReactionCounts(ctx context.Context, postID int) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&Reaction{}).
		Select("type, COUNT(*) AS count").
		Where("post_id = ?", postID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count reactions: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Count
	}
	return out, nil
}
