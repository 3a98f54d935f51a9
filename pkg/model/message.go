package model

import "time"

type MessageType string

const (
	TypeText     MessageType = "TEXT"
	TypeImage    MessageType = "IMAGE"
	TypeFile     MessageType = "FILE"
	TypeLocation MessageType = "LOCATION"
)

// MaxContentLength bounds the message body; anything longer is rejected
// before it reaches the store.
const MaxContentLength = 1000

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeLocation:
		return true
	}
	return false
}

// Message is one persisted chat message between the two parties of a job.
// Immutable after creation except for the read-state fields, which only the
// read-state tracker touches.
type Message struct {
	ID          int64       `json:"id"`
	JobID       string      `json:"jobId"`
	SenderID    string      `json:"senderId"`
	RecipientID string      `json:"recipientId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	IsRead      bool        `json:"isRead"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// TypingIndicator is a transient broadcast payload. Never persisted;
// last write wins per (jobID, userID).
type TypingIndicator struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	JobID     string    `json:"jobId"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the derived per-user view of one job's message thread.
// Recomputed on read, never materialized as its own entity.
type Conversation struct {
	JobID       string    `json:"jobId"`
	JobTitle    string    `json:"jobTitle"`
	JobStatus   JobStatus `json:"jobStatus"`
	OtherUserID string    `json:"otherUserId"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int64     `json:"unreadCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}
