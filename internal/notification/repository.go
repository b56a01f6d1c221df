package notification

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, n *Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ExistsSince reports whether a notification matching c's dedup tuple was
// created after since.
func (r *Repository) ExistsSince(ctx context.Context, c Candidate, since time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND type = ? AND actor_id = ? AND created_at > ?",
			c.RecipientID, c.Type, c.ActorID, since)
	q = matchNullable(q, "post_id", c.PostID)
	q = matchNullable(q, "comment_id", c.CommentID)

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

func matchNullable(q *gorm.DB, column string, v *int) *gorm.DB {
	if v == nil {
		return q.Where(column + " IS NULL")
	}
	return q.Where(column+" = ?", *v)
}

func (r *Repository) List(ctx context.Context, recipientID, limit, offset int) ([]Notification, error) {
	out := []Notification{}
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (r *Repository) UnreadCount(ctx context.Context, recipientID int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead returns the number of rows matched; zero means the notification
// does not exist or belongs to someone else.
func (r *Repository) MarkRead(ctx context.Context, id, recipientID int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notification read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) MarkAllRead(ctx context.Context, recipientID int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) Delete(ctx context.Context, id, recipientID int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete notification: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) DeleteAll(ctx context.Context, recipientID int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Delete(&Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}
