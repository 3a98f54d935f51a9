// Package presence fans out the ephemeral signals: typing indicators and
// professional online status. Nothing here is persisted and nothing is
// guaranteed to arrive; a missed typing event self-heals on the next one.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/authz"
	"github.com/avelar/jobchat/pkg/event"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/registry"
)

// ErrNotProfessional rejects online-status changes from non-professional
// connections; only professionals advertise availability.
var ErrNotProfessional = errors.New("presence: online status is professional-only")

// onlineSetKey is the Redis set of professional ids currently online. Kept
// in Redis rather than process memory so the REST surface and all instances
// agree on it.
const onlineSetKey = "presence:online:professionals"

type Broadcaster struct {
	access   *authz.Authorizer
	registry *registry.Registry
	redis    *redis.Client
	log      zerolog.Logger
}

// New creates a broadcaster. rdb may be nil in tests; the Redis bookkeeping
// is then skipped and only fan-out happens.
func New(access *authz.Authorizer, reg *registry.Registry, rdb *redis.Client) *Broadcaster {
	return &Broadcaster{
		access:   access,
		registry: reg,
		redis:    rdb,
		log:      logging.Component("presence"),
	}
}

// SetTyping broadcasts a typing indicator to the other party's personal
// channel. Point-to-point, never room-wide, never persisted. Last write wins
// per (jobID, userID).
func (b *Broadcaster) SetTyping(ctx context.Context, userID, jobID string, isTyping bool) error {
	job, err := b.access.AuthorizedJob(ctx, userID, jobID)
	if err != nil {
		return err
	}

	other, ok := job.Participants.Other(userID)
	if !ok {
		// Nobody on the other side yet; nothing to signal.
		return nil
	}

	payload, err := event.NewUserTyping(model.TypingIndicator{
		UserID:    userID,
		JobID:     jobID,
		IsTyping:  isTyping,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	b.registry.Publish(registry.UserChannel(other), payload)
	return nil
}

// SetOnlineStatus records a professional's availability and broadcasts the
// change to the aggregate clients channel. Not scoped per job: any client
// currently looking at the professional should see the flip.
func (b *Broadcaster) SetOnlineStatus(ctx context.Context, userID string, role model.Role, online bool) error {
	if role != model.RoleProfessional {
		return ErrNotProfessional
	}

	if b.redis != nil {
		var err error
		if online {
			err = b.redis.SAdd(ctx, onlineSetKey, userID).Err()
		} else {
			err = b.redis.SRem(ctx, onlineSetKey, userID).Err()
		}
		if err != nil {
			// Presence carries no guarantee; keep broadcasting even if the
			// set update failed.
			b.log.Warn().Err(err).Str("user_id", userID).Bool("online", online).
				Msg("failed to update online set")
		}
	}

	payload, err := event.NewStatusChange(userID, online)
	if err != nil {
		return err
	}
	b.registry.Publish(registry.RoleChannel(model.RoleClient), payload)
	return nil
}

// OnlineProfessionals lists the professionals currently marked online.
func (b *Broadcaster) OnlineProfessionals(ctx context.Context) ([]string, error) {
	if b.redis == nil {
		return nil, nil
	}
	return b.redis.SMembers(ctx, onlineSetKey).Result()
}
