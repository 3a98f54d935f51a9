package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/snowflake"
)

// MemStore is the in-memory Store implementation used by tests and local
// development. Semantics match ScyllaStore.
type MemStore struct {
	mu       sync.RWMutex
	ids      *snowflake.Node
	byJob    map[string][]*model.Message // ascending by id
	byID     map[int64]*model.Message
	jobs     map[string]*model.Job
	failNext error
}

func NewMemStore() *MemStore {
	node, err := snowflake.NewNode(0)
	if err != nil {
		panic(err) // unreachable: 0 is always a valid node id
	}
	return &MemStore{
		ids:   node,
		byJob: make(map[string][]*model.Message),
		byID:  make(map[int64]*model.Message),
		jobs:  make(map[string]*model.Job),
	}
}

// FailNextInsert makes the next Insert return err. Test hook for the
// persist-before-publish guarantee.
func (s *MemStore) FailNextInsert(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *MemStore) Insert(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	now := time.Now().UTC()
	m.ID = s.ids.Generate()
	m.CreatedAt = now
	m.UpdatedAt = now

	stored := *m
	s.byJob[m.JobID] = append(s.byJob[m.JobID], &stored)
	s.byID[m.ID] = &stored
	return nil
}

func (s *MemStore) History(_ context.Context, jobID string, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byJob[jobID]
	if offset >= len(msgs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	out := make([]model.Message, 0, end-offset)
	for _, m := range msgs[offset:end] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemStore) MarkRead(_ context.Context, ids []int64, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	marked := 0
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok || m.RecipientID != readerID || m.IsRead {
			continue
		}
		readAt := now
		m.IsRead = true
		m.ReadAt = &readAt
		m.UpdatedAt = now
		marked++
	}
	return marked, nil
}

func (s *MemStore) UnreadCount(_ context.Context, userID, jobID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.byJob[jobID] {
		if m.RecipientID == userID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Conversations(_ context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	limit, offset = clampPage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, job := range s.jobs {
		if !job.Participants.Includes(userID) {
			continue
		}
		c := model.Conversation{
			JobID:       job.ID,
			JobTitle:    job.Title,
			JobStatus:   job.Status,
			LastUpdated: job.UpdatedAt,
		}
		if other, ok := job.Participants.Other(userID); ok {
			c.OtherUserID = other
		}
		if msgs := s.byJob[job.ID]; len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			c.LastMessage = &last
			c.LastUpdated = last.CreatedAt
		}
		for _, m := range s.byJob[job.ID] {
			if m.RecipientID == userID && !m.IsRead {
				c.UnreadCount++
			}
		}
		convs = append(convs, c)
	}

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastUpdated.Equal(convs[j].LastUpdated) {
			return convs[i].JobID < convs[j].JobID
		}
		return convs[i].LastUpdated.After(convs[j].LastUpdated)
	})

	if offset >= len(convs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(convs) {
		end = len(convs)
	}
	return convs[offset:end], nil
}

func (s *MemStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemStore) PutJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.jobs[cp.ID] = &cp
	return nil
}
