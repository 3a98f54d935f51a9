// Package event defines the application-level events multiplexed over a
// realtime connection. Every payload is a tagged struct per event name;
// inbound frames are decoded and validated here, at the transport boundary,
// so nothing downstream ever sees an untyped payload.
package event

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/avelar/jobchat/pkg/model"
)

// Client -> server event names.
const (
	TypeJoinJob         = "join-job"
	TypeLeaveJob        = "leave-job"
	TypeSendMessage     = "send-message"
	TypeTypingStart     = "typing-start"
	TypeTypingStop      = "typing-stop"
	TypeSetOnlineStatus = "set-online-status"
)

// Server -> client event names.
const (
	TypeAuthSuccess   = "auth-success"
	TypeJobJoined     = "job-joined"
	TypeNewMessage    = "new-message"
	TypeMessageSent   = "message-sent"
	TypeJobRoomUpdate = "job-room-update"
	TypeUserTyping    = "user-typing"
	TypeStatusChange  = "professional-status-change"
	TypeError         = "error"
)

var ErrUnknownType = errors.New("event: unknown event type")

// JoinJob asks to subscribe this connection to a job's room. The server
// authorizes the join before acking with JobJoined.
type JoinJob struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

type LeaveJob struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

// SendMessage carries a new message body. The recipient is never part of
// the payload: the server derives the other party from the job row.
type SendMessage struct {
	Type        string            `json:"type"`
	JobID       string            `json:"jobId"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"messageType,omitempty"`
}

// Typing is the decoded form of typing-start/typing-stop.
type Typing struct {
	Type     string `json:"type"`
	JobID    string `json:"jobId"`
	IsTyping bool   `json:"-"`
}

type SetOnlineStatus struct {
	Type     string `json:"type"`
	IsOnline bool   `json:"isOnline"`
}

type AuthSuccess struct {
	Type     string     `json:"type"`
	UserID   string     `json:"userId"`
	UserRole model.Role `json:"userRole"`
}

type JobJoined struct {
	Type   string `json:"type"`
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`
}

// MessageEvent wraps a persisted message for new-message, message-sent and
// job-room-update.
type MessageEvent struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

type UserTyping struct {
	Type string `json:"type"`
	model.TypingIndicator
}

type StatusChange struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeClient parses one inbound frame into its typed event. The returned
// value is one of *JoinJob, *LeaveJob, *SendMessage, *Typing or
// *SetOnlineStatus, already structurally validated.
func DecodeClient(data []byte) (interface{}, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("event: malformed frame: %w", err)
	}

	switch peek.Type {
	case TypeJoinJob:
		var ev JoinJob
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("event: bad %s payload: %w", peek.Type, err)
		}
		if ev.JobID == "" {
			return nil, fmt.Errorf("event: %s requires jobId", peek.Type)
		}
		return &ev, nil

	case TypeLeaveJob:
		var ev LeaveJob
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("event: bad %s payload: %w", peek.Type, err)
		}
		if ev.JobID == "" {
			return nil, fmt.Errorf("event: %s requires jobId", peek.Type)
		}
		return &ev, nil

	case TypeSendMessage:
		var ev SendMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("event: bad %s payload: %w", peek.Type, err)
		}
		if ev.JobID == "" {
			return nil, fmt.Errorf("event: %s requires jobId", peek.Type)
		}
		return &ev, nil

	case TypeTypingStart, TypeTypingStop:
		var ev Typing
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("event: bad %s payload: %w", peek.Type, err)
		}
		if ev.JobID == "" {
			return nil, fmt.Errorf("event: %s requires jobId", peek.Type)
		}
		ev.IsTyping = peek.Type == TypeTypingStart
		return &ev, nil

	case TypeSetOnlineStatus:
		var ev SetOnlineStatus
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("event: bad %s payload: %w", peek.Type, err)
		}
		return &ev, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, peek.Type)
}

// Encode marshals a server event for the wire.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func NewMessageEvent(eventType string, m model.Message) ([]byte, error) {
	return Encode(MessageEvent{Type: eventType, Message: m})
}

func NewUserTyping(ind model.TypingIndicator) ([]byte, error) {
	return Encode(UserTyping{Type: TypeUserTyping, TypingIndicator: ind})
}

func NewStatusChange(userID string, online bool) ([]byte, error) {
	return Encode(StatusChange{Type: TypeStatusChange, UserID: userID, IsOnline: online})
}

func NewError(code, message string) ([]byte, error) {
	return Encode(ErrorEvent{Type: TypeError, Code: code, Message: message})
}
