package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/snowflake"
)

// ScyllaStore is the production Store backed by Scylla/Cassandra.
//
// Tables (created by apps/schema):
//
//	jobs            (id PK): projection of the marketplace job rows
//	messages        (job_id, id) clustering ASC: the message threads
//	message_index   (id PK -> job_id): partition lookup for mark-read
//	conversations   (user_id, job_id): per-user thread directory
//	unread_counters (user_id, job_id) counter: unread per thread
type ScyllaStore struct {
	session *gocql.Session
	ids     *snowflake.Node
	log     zerolog.Logger
}

// NewScylla connects to the cluster and returns a ready store. nodeID must
// be unique per running instance so generated message ids never collide.
func NewScylla(hosts []string, keyspace string, nodeID int64) (*ScyllaStore, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("store: connect scylla: %w", err)
	}

	ids, err := snowflake.NewNode(nodeID)
	if err != nil {
		session.Close()
		return nil, err
	}

	return &ScyllaStore{
		session: session,
		ids:     ids,
		log:     logging.Component("store"),
	}, nil
}

func (s *ScyllaStore) Close() {
	s.session.Close()
}

func (s *ScyllaStore) Insert(ctx context.Context, m *model.Message) error {
	now := time.Now().UTC()
	m.ID = s.ids.Generate()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.IsRead = false
	m.ReadAt = nil

	if err := s.session.Query(
		`INSERT INTO messages (job_id, id, sender_id, recipient_id, content, message_type, is_read, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.JobID, m.ID, m.SenderID, m.RecipientID, m.Content, string(m.MessageType), false, m.CreatedAt, m.UpdatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}

	if err := s.session.Query(
		`INSERT INTO message_index (id, job_id) VALUES (?, ?)`,
		m.ID, m.JobID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: insert message index: %w", err)
	}

	// Directory and counter maintenance is secondary: the message row is the
	// source of truth, so failures here are logged rather than failing the
	// send.
	s.touchConversation(ctx, m.SenderID, m.JobID, m.RecipientID, now)
	s.touchConversation(ctx, m.RecipientID, m.JobID, m.SenderID, now)
	if err := s.session.Query(
		`UPDATE unread_counters SET unread = unread + 1 WHERE user_id = ? AND job_id = ?`,
		m.RecipientID, m.JobID,
	).WithContext(ctx).Exec(); err != nil {
		s.log.Warn().Err(err).Str("job_id", m.JobID).Str("user_id", m.RecipientID).
			Msg("failed to increment unread counter")
	}

	return nil
}

func (s *ScyllaStore) touchConversation(ctx context.Context, userID, jobID, otherUserID string, at time.Time) {
	if userID == "" {
		return
	}
	if err := s.session.Query(
		`INSERT INTO conversations (user_id, job_id, other_user_id, last_updated) VALUES (?, ?, ?, ?)`,
		userID, jobID, otherUserID, at,
	).WithContext(ctx).Exec(); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("job_id", jobID).
			Msg("failed to update conversation row")
	}
}

func (s *ScyllaStore) History(ctx context.Context, jobID string, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)

	// The clustering key (id ASC) is creation order. Offset paging skips
	// rows client-side; threads are two-party and short enough that deep
	// offsets do not occur in practice.
	iter := s.session.Query(
		`SELECT job_id, id, sender_id, recipient_id, content, message_type, is_read, read_at, created_at, updated_at
		 FROM messages WHERE job_id = ? LIMIT ?`,
		jobID, offset+limit,
	).WithContext(ctx).Iter()

	var out []model.Message
	var m model.Message
	var msgType string
	var readAt time.Time
	row := 0
	for iter.Scan(&m.JobID, &m.ID, &m.SenderID, &m.RecipientID, &m.Content, &msgType, &m.IsRead, &readAt, &m.CreatedAt, &m.UpdatedAt) {
		if row++; row <= offset {
			continue
		}
		m.MessageType = model.MessageType(msgType)
		m.ReadAt = nil
		if m.IsRead && !readAt.IsZero() {
			at := readAt
			m.ReadAt = &at
		}
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	return out, nil
}

func (s *ScyllaStore) MarkRead(ctx context.Context, ids []int64, readerID string) (int, error) {
	now := time.Now().UTC()
	marked := 0
	perJob := make(map[string]int64)

	for _, id := range ids {
		var jobID string
		if err := s.session.Query(
			`SELECT job_id FROM message_index WHERE id = ?`, id,
		).WithContext(ctx).Scan(&jobID); err != nil {
			if err == gocql.ErrNotFound {
				continue
			}
			return marked, fmt.Errorf("store: mark read lookup: %w", err)
		}

		var recipientID string
		var isRead bool
		if err := s.session.Query(
			`SELECT recipient_id, is_read FROM messages WHERE job_id = ? AND id = ?`,
			jobID, id,
		).WithContext(ctx).Scan(&recipientID, &isRead); err != nil {
			if err == gocql.ErrNotFound {
				continue
			}
			return marked, fmt.Errorf("store: mark read fetch: %w", err)
		}

		// Only the addressee flips read state, and only once.
		if recipientID != readerID || isRead {
			continue
		}

		if err := s.session.Query(
			`UPDATE messages SET is_read = true, read_at = ?, updated_at = ? WHERE job_id = ? AND id = ?`,
			now, now, jobID, id,
		).WithContext(ctx).Exec(); err != nil {
			return marked, fmt.Errorf("store: mark read update: %w", err)
		}
		marked++
		perJob[jobID]++
	}

	for jobID, n := range perJob {
		if err := s.session.Query(
			`UPDATE unread_counters SET unread = unread - ? WHERE user_id = ? AND job_id = ?`,
			n, readerID, jobID,
		).WithContext(ctx).Exec(); err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("user_id", readerID).
				Msg("failed to decrement unread counter")
		}
	}

	return marked, nil
}

func (s *ScyllaStore) UnreadCount(ctx context.Context, userID, jobID string) (int64, error) {
	var n int64
	err := s.session.Query(
		`SELECT unread FROM unread_counters WHERE user_id = ? AND job_id = ?`,
		userID, jobID,
	).WithContext(ctx).Scan(&n)
	if err == gocql.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: unread count: %w", err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (s *ScyllaStore) Conversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	limit, offset = clampPage(limit, offset)

	iter := s.session.Query(
		`SELECT job_id, other_user_id, last_updated FROM conversations WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()

	var convs []model.Conversation
	var c model.Conversation
	for iter.Scan(&c.JobID, &c.OtherUserID, &c.LastUpdated) {
		convs = append(convs, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
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
	convs = convs[offset:end]

	for i := range convs {
		if job, err := s.GetJob(ctx, convs[i].JobID); err == nil {
			convs[i].JobTitle = job.Title
			convs[i].JobStatus = job.Status
		}
		if last, err := s.lastMessage(ctx, convs[i].JobID); err == nil && last != nil {
			convs[i].LastMessage = last
		}
		if n, err := s.UnreadCount(ctx, userID, convs[i].JobID); err == nil {
			convs[i].UnreadCount = n
		}
	}
	return convs, nil
}

func (s *ScyllaStore) lastMessage(ctx context.Context, jobID string) (*model.Message, error) {
	var m model.Message
	var msgType string
	var readAt time.Time
	err := s.session.Query(
		`SELECT job_id, id, sender_id, recipient_id, content, message_type, is_read, read_at, created_at, updated_at
		 FROM messages WHERE job_id = ? ORDER BY id DESC LIMIT 1`,
		jobID,
	).WithContext(ctx).Scan(&m.JobID, &m.ID, &m.SenderID, &m.RecipientID, &m.Content, &msgType, &m.IsRead, &readAt, &m.CreatedAt, &m.UpdatedAt)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last message: %w", err)
	}
	m.MessageType = model.MessageType(msgType)
	if m.IsRead && !readAt.IsZero() {
		at := readAt
		m.ReadAt = &at
	}
	return &m, nil
}

func (s *ScyllaStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	var status string
	err := s.session.Query(
		`SELECT id, title, status, client_id, professional_id, updated_at FROM jobs WHERE id = ?`,
		jobID,
	).WithContext(ctx).Scan(&job.ID, &job.Title, &status, &job.Participants.ClientID, &job.Participants.ProfessionalID, &job.UpdatedAt)
	if err == gocql.ErrNotFound {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}

func (s *ScyllaStore) PutJob(ctx context.Context, job *model.Job) error {
	at := job.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := s.session.Query(
		`INSERT INTO jobs (id, title, status, client_id, professional_id, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Title, string(job.Status), job.Participants.ClientID, job.Participants.ProfessionalID, at,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: put job: %w", err)
	}

	// Pre-create directory rows so the thread shows up in the conversation
	// list before the first message.
	other := job.Participants.ProfessionalID
	s.touchConversation(ctx, job.Participants.ClientID, job.ID, other, at)
	if other != "" {
		s.touchConversation(ctx, other, job.ID, job.Participants.ClientID, at)
	}
	return nil
}
