package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"go-social/internal/apperr"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveMessage(ctx context.Context, m *Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message that has not been deleted.
func (r *Repository) GetMessage(ctx context.Context, id int) (*Message, error) {
	m := &Message{}
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// MarkRead flips an unread message to read. It reports false when the
// message was already read, so only one caller wins a concurrent read.
func (r *Repository) MarkRead(ctx context.Context, id int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("mark message read: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkConversationRead marks every unread message from senderID to
// recipientID as read and returns how many changed.
func (r *Repository) MarkConversationRead(ctx context.Context, senderID, recipientID int, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ? AND is_deleted = ?", senderID, recipientID, false, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("mark conversation read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) SoftDelete(ctx context.Context, id int) error {
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Update("is_deleted", true).Error
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// History lists the messages exchanged by two users, newest first.
func (r *Repository) History(ctx context.Context, userID, otherID, limit, offset int) ([]Message, error) {
	messages := []Message{}
	err := r.db.WithContext(ctx).
		Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)) AND is_deleted = ?",
			userID, otherID, otherID, userID, false).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("message history: %w", err)
	}
	return messages, nil
}

func (r *Repository) UnreadCount(ctx context.Context, userID int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("recipient_id = ? AND is_read = ? AND is_deleted = ?", userID, false, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

// Conversations returns one entry per counterpart, ordered by the most
// recent message.
func (r *Repository) Conversations(ctx context.Context, userID, limit, offset int) ([]Conversation, error) {
	var heads []struct {
		CounterpartID int
		LastID        int
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END AS counterpart_id,
		       MAX(id) AS last_id
		FROM messages
		WHERE (sender_id = ? OR recipient_id = ?) AND is_deleted = ?
		GROUP BY counterpart_id
		ORDER BY last_id DESC
		LIMIT ? OFFSET ?`,
		userID, userID, userID, false, limit, offset,
	).Scan(&heads).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := []Conversation{}
	if len(heads) == 0 {
		return out, nil
	}

	ids := make([]int, len(heads))
	counterparts := make([]int, len(heads))
	for i, h := range heads {
		ids[i] = h.LastID
		counterparts[i] = h.CounterpartID
	}

	var last []Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&last).Error; err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}
	byID := make(map[int]Message, len(last))
	for _, m := range last {
		byID[m.ID] = m
	}

	var unread []struct {
		SenderID int
		Count    int64
	}
	err = r.db.WithContext(ctx).Model(&Message{}).
		Select("sender_id, COUNT(*) AS count").
		Where("recipient_id = ? AND is_read = ? AND is_deleted = ? AND sender_id IN ?", userID, false, false, counterparts).
		Group("sender_id").
		Scan(&unread).Error
	if err != nil {
		return nil, fmt.Errorf("count unread per conversation: %w", err)
	}
	unreadBy := make(map[int]int64, len(unread))
	for _, u := range unread {
		unreadBy[u.SenderID] = u.Count
	}

	for _, h := range heads {
		out = append(out, Conversation{
			UserID:      h.CounterpartID,
			LastMessage: byID[h.LastID],
			UnreadCount: unreadBy[h.CounterpartID],
		})
	}
	return out, nil
}
