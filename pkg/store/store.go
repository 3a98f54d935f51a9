// Package store defines the persistence contracts for messages and the job
// lookup rows the authorizer needs, plus the Scylla and in-memory
// implementations.
package store

import (
	"context"
	"errors"

	"github.com/avelar/jobchat/pkg/model"
)

// ErrJobNotFound means the job id has no row; the authorizer reports it
// distinctly from a forbidden access.
var ErrJobNotFound = errors.New("store: job not found")

// MessageStore persists messages and their read state. Insert assigns the
// id and timestamps; everything after that is immutable except is_read and
// read_at, which only MarkRead touches.
type MessageStore interface {
	// Insert persists m, filling ID, CreatedAt and UpdatedAt.
	Insert(ctx context.Context, m *model.Message) error

	// History returns messages for a job ascending by creation order.
	History(ctx context.Context, jobID string, limit, offset int) ([]model.Message, error)

	// MarkRead flags the given messages as read by readerID. Messages whose
	// recipient is not readerID, already-read messages and unknown ids are
	// skipped silently; the call is idempotent. Returns the number of
	// messages newly marked.
	MarkRead(ctx context.Context, ids []int64, readerID string) (int, error)

	// UnreadCount reports how many unread messages addressed to userID sit
	// in jobID's thread.
	UnreadCount(ctx context.Context, userID, jobID string) (int64, error)

	// Conversations lists the user's threads, most recently updated first,
	// each with the job's display fields, the other party, the last message
	// and the unread count.
	Conversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error)
}

// JobStore exposes the job rows messaging depends on. Job CRUD proper lives
// with the marketplace service; this is a read-mostly projection plus the
// upsert the bootstrap tool and tests use.
type JobStore interface {
	// GetJob returns the job or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	PutJob(ctx context.Context, job *model.Job) error
}

// Store is the full persistence surface the service wires together.
type Store interface {
	MessageStore
	JobStore
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
