package chat

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------
// Database & API models
// ---------------------------------------------

type Message struct {
	ID          int        `json:"id" gorm:"primaryKey"`
	SenderID    int        `json:"sender_id" gorm:"not null;index:idx_messages_pair,priority:1"`
	RecipientID int        `json:"recipient_id" gorm:"not null;index:idx_messages_pair,priority:2;index"`
	Content     string     `json:"content" gorm:"type:text"`
	ImageURL    string     `json:"image_url,omitempty" gorm:"size:500"`
	IsRead      bool       `json:"is_read" gorm:"not null;default:false"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	IsDeleted   bool       `json:"-" gorm:"not null;default:false"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;index"`
}

// Conversation is one row of a user's inbox: the latest message exchanged
// with a counterpart and how many of theirs are unread.
type Conversation struct {
	UserID      int     `json:"user_id"`
	LastMessage Message `json:"last_message"`
	UnreadCount int64   `json:"unread_count"`
}

type SendRequest struct {
	RecipientID int    `json:"recipientId"`
	Content     string `json:"content"`
	ImageURL    string `json:"image_url"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}

func Models() []any {
	return []any{&Message{}}
}

// ---------------------------------------------
// Realtime wire format
// ---------------------------------------------

const (
	EventMessageSend      = "message:send"
	EventMessageReceived  = "message:received"
	EventMessageRead      = "message:read"
	EventConversationRead = "conversation:read"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventUsersOnline      = "users:online"
	EventAck              = "ack"
)

// Inbound is a frame sent by a client. AckID is echoed on the acknowledgement;
// frames without one are not acknowledged.
type Inbound struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server push or an acknowledgement.
type Outbound struct {
	Event string    `json:"event"`
	AckID string    `json:"ack_id,omitempty"`
	Data  any       `json:"data,omitempty"`
	Error *AckError `json:"error,omitempty"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type userEvent struct {
	UserID int `json:"userId"`
}

type usersOnlineEvent struct {
	UserIDs []int `json:"userIds"`
}

type messageReadEvent struct {
	MessageID int       `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
	ReadBy    int       `json:"readBy"`
}

type conversationReadEvent struct {
	ReadBy int   `json:"readBy"`
	Count  int64 `json:"count"`
}

type recipientPayload struct {
	RecipientID int `json:"recipientId"`
}

type messageReadPayload struct {
	MessageID int `json:"messageId"`
	SenderID  int `json:"senderId"`
}

type conversationReadPayload struct {
	SenderID int `json:"senderId"`
}
